package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

func TestSendInputValidate(t *testing.T) {
	cases := []struct {
		name  string
		input SendInput
		ok    bool
	}{
		{"text", SendInput{ConversationID: 1, Content: "hi"}, true},
		{"attachment only", SendInput{ConversationID: 1, AttachmentURL: strPtr("https://cdn/a.pdf")}, true},
		{"blank", SendInput{ConversationID: 1, Content: "  \n"}, false},
		{"blank attachment", SendInput{ConversationID: 1, AttachmentURL: strPtr(" ")}, false},
		{"no conversation", SendInput{Content: "hi"}, false},
		{"bad metadata", SendInput{ConversationID: 1, Content: "hi", Metadata: &models.MessageMetadata{Kind: models.MetadataFileAttachment}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.input.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		})
	}
}

func TestFuncSubscriptionStopsOnce(t *testing.T) {
	calls := 0
	sub := NewSubscription(func() { calls++ })
	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 1, calls)

	NewSubscription(nil).Unsubscribe()
}

func TestStaticSession(t *testing.T) {
	id, err := StaticSession(7).UserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	_, err = StaticSession(0).UserID(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}
