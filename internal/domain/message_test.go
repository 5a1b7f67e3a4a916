package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatMessageValidate(t *testing.T) {
	assert.ErrorIs(t, ChatMessage{ReceiverID: "b", Text: "hi"}.Validate(), ErrMessageNoSender)
	assert.ErrorIs(t, ChatMessage{SenderID: "a", Text: "hi"}.Validate(), ErrMessageNoReceiver)
	assert.ErrorIs(t, ChatMessage{SenderID: "a", ReceiverID: "b"}.Validate(), ErrMessageEmpty)
	assert.NoError(t, ChatMessage{SenderID: "a", ReceiverID: "b", Image: "data:image/png;base64,AA=="}.Validate())
}
