package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/openmall/realtime/internal/event"
)

func nopRenderer(tag string, calls *[]string) Renderer {
	return RendererFunc(func(context.Context, *event.Event, OpenFunc) error {
		*calls = append(*calls, tag)
		return nil
	})
}

func TestRegisterRendererLastWriteWins(t *testing.T) {
	reg := New()
	var calls []string

	reg.RegisterRenderer("ORDER_PAID", nopRenderer("first", &calls))
	reg.RegisterRenderer("ORDER_PAID", nopRenderer("second", &calls))

	renderer, ok := reg.Renderer("ORDER_PAID")
	if !ok {
		t.Fatal("renderer missing")
	}
	if err := renderer.Render(context.Background(), nil, nil); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0] != "second" {
		t.Fatalf("calls = %v, re-registration must replace", calls)
	}
}

func TestRegisterIgnoresEmptyAndNil(t *testing.T) {
	reg := New()
	var calls []string

	reg.RegisterRenderer("", nopRenderer("x", &calls))
	reg.RegisterRenderer("ORDER_PAID", nil)
	reg.RegisterNavigator("ORDER_PAID", nil)

	if _, ok := reg.Renderer("ORDER_PAID"); ok {
		t.Fatal("nil renderer registered")
	}
	if _, ok := reg.Navigator("ORDER_PAID"); ok {
		t.Fatal("nil navigator registered")
	}
}

func TestUnknownTypeLookup(t *testing.T) {
	reg := New()
	if _, ok := reg.Renderer("NEVER_SEEN"); ok {
		t.Fatal("unknown type must miss")
	}
	renderer, err := reg.Resolve(context.Background(), "NEVER_SEEN")
	if err != nil || renderer != nil {
		t.Fatalf("resolve without resolver = (%v, %v), want (nil, nil)", renderer, err)
	}
}

func TestResolveLazyAndCached(t *testing.T) {
	reg := New()
	var calls []string
	resolved := 0
	reg.SetResolver(func(_ context.Context, eventType string) (Renderer, error) {
		resolved++
		if eventType != "CHAT_MESSAGE" {
			return nil, nil
		}
		return nopRenderer("lazy", &calls), nil
	})

	for i := 0; i < 3; i++ {
		renderer, err := reg.Resolve(context.Background(), "CHAT_MESSAGE")
		if err != nil {
			t.Fatal(err)
		}
		if renderer == nil {
			t.Fatal("resolver result lost")
		}
	}
	if resolved != 1 {
		t.Fatalf("resolver ran %d times, want cached after the first", resolved)
	}
}

func TestResolveError(t *testing.T) {
	reg := New()
	wantErr := errors.New("registry backend down")
	reg.SetResolver(func(context.Context, string) (Renderer, error) {
		return nil, wantErr
	})

	_, err := reg.Resolve(context.Background(), "ORDER_PAID")
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v", err)
	}
}

func TestClear(t *testing.T) {
	reg := New()
	var calls []string
	reg.RegisterRenderer("ORDER_PAID", nopRenderer("x", &calls))
	reg.RegisterNavigator("ORDER_PAID", func(context.Context, map[string]any, *event.Event) error { return nil })

	reg.Clear()

	if _, ok := reg.Renderer("ORDER_PAID"); ok {
		t.Fatal("renderer survived Clear")
	}
	if _, ok := reg.Navigator("ORDER_PAID"); ok {
		t.Fatal("navigator survived Clear")
	}
}
