package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterCurrentAndDismiss(t *testing.T) {
	e := NewEmitter()
	assert.Nil(t, e.Current())

	e.Emit(Prompt{Kind: KindPhotos, Message: "photo limit"})
	current := e.Current()
	require.NotNil(t, current)
	assert.Equal(t, KindPhotos, current.Kind)

	// A newer prompt overwrites the previous one.
	e.Emit(Prompt{Kind: KindStorage, Message: "storage limit"})
	current = e.Current()
	require.NotNil(t, current)
	assert.Equal(t, KindStorage, current.Kind)

	e.Dismiss()
	assert.Nil(t, e.Current())
	e.Dismiss() // no-op
}

func TestEmitterSubscribe(t *testing.T) {
	e := NewEmitter()

	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	e.Emit(Prompt{Kind: KindGalleries, Message: "gallery limit"})

	select {
	case p := <-ch:
		assert.Equal(t, KindGalleries, p.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected prompt on subscriber channel")
	}
}

func TestEmitterUnsubscribeClosesChannel(t *testing.T) {
	e := NewEmitter()

	id, ch := e.Subscribe()
	e.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)

	e.Emit(Prompt{Kind: KindGeneral, Message: "upgrade"}) // must not panic
}

func TestEmitterDropsWhenSubscriberBlocked(t *testing.T) {
	e := NewEmitter()

	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	for i := 0; i < subscriberBufferSize+5; i++ {
		e.Emit(Prompt{Kind: KindGeneral, Message: "upgrade"})
	}

	assert.Len(t, ch, subscriberBufferSize)
}
