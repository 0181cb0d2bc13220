// Package stomp implements the subset of STOMP 1.2 the storefront backend
// speaks: CONNECT/CONNECTED, SUBSCRIBE/UNSUBSCRIBE, SEND, MESSAGE, ERROR and
// heart-beats.
package stomp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Frame commands.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdMessage     = "MESSAGE"
	CmdError       = "ERROR"
)

// Well-known header names.
const (
	HdrAcceptVersion = "accept-version"
	HdrVersion       = "version"
	HdrHeartBeat     = "heart-beat"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrSubscription  = "subscription"
	HdrContentType   = "content-type"
	HdrMessage       = "message"
	HdrToken         = "token"
)

// heartBeatBytes is the wire form of a heart-beat: a lone LF.
var heartBeatBytes = []byte{'\n'}

// Frame is one protocol message. A nil Frame from Parse means a heart-beat.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

// NewFrame builds a frame with an initialized header map.
func NewFrame(command string) *Frame {
	return &Frame{Command: command, Headers: make(map[string]string)}
}

// Header returns the named header or "".
func (f *Frame) Header(name string) string {
	if f == nil || f.Headers == nil {
		return ""
	}
	return f.Headers[name]
}

// HeartBeat returns the wire encoding of a heart-beat.
func HeartBeat() []byte {
	return heartBeatBytes
}

// IsHeartBeat reports whether raw is a bare heart-beat message.
func IsHeartBeat(raw []byte) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimRight(raw, "\r\n"), nil)
}

// Marshal encodes the frame. Header values are escaped per STOMP 1.2 except
// on CONNECT/CONNECTED frames, which STOMP 1.2 exempts.
func (f *Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')
	escaped := f.Command != CmdConnect && f.Command != CmdConnected
	for name, value := range f.Headers {
		if escaped {
			name = escapeHeader(name)
			value = escapeHeader(value)
		}
		buf.WriteString(name)
		buf.WriteByte(':')
		buf.WriteString(value)
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		buf.WriteString("content-length:")
		buf.WriteString(strconv.Itoa(len(f.Body)))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Parse decodes one wire message. Heart-beats parse to (nil, nil).
func Parse(raw []byte) (*Frame, error) {
	if IsHeartBeat(raw) {
		return nil, nil
	}

	head, body, found := bytes.Cut(raw, []byte("\n\n"))
	if !found {
		return nil, fmt.Errorf("frame has no header terminator")
	}
	body = bytes.TrimSuffix(body, []byte{0})

	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")
	command := strings.TrimSpace(lines[0])
	if command == "" {
		return nil, fmt.Errorf("frame has empty command")
	}

	frame := NewFrame(command)
	escaped := command != CmdConnect && command != CmdConnected
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header %q", line)
		}
		if escaped {
			var err error
			if name, err = unescapeHeader(name); err != nil {
				return nil, err
			}
			if value, err = unescapeHeader(value); err != nil {
				return nil, err
			}
		}
		// First occurrence wins, per the STOMP spec.
		if _, exists := frame.Headers[name]; !exists {
			frame.Headers[name] = value
		}
	}
	frame.Body = body
	return frame, nil
}

// ParseHeartBeatValues splits a "sx,sy" heart-beat header into the two
// millisecond values, tolerating a missing or malformed header as 0,0.
func ParseHeartBeatValues(header string) (sendMillis, recvMillis int) {
	sx, sy, ok := strings.Cut(header, ",")
	if !ok {
		return 0, 0
	}
	sendMillis, _ = strconv.Atoi(strings.TrimSpace(sx))
	recvMillis, _ = strconv.Atoi(strings.TrimSpace(sy))
	return sendMillis, recvMillis
}

func escapeHeader(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "\r", "\\r", "\n", "\\n", ":", "\\c")
	return r.Replace(s)
}

func unescapeHeader(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("dangling escape in header %q", s)
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		default:
			return "", fmt.Errorf("invalid escape \\%c in header %q", s[i], s)
		}
	}
	return b.String(), nil
}
