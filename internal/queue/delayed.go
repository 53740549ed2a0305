package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

type delayedEnvelope struct {
	// Nonce keeps identical copies distinct as sorted-set members.
	Nonce   string              `json:"nonce"`
	Message domain.QueueMessage `json:"message"`
}

func encodeDelayed(message domain.QueueMessage) (string, error) {
	encoded, err := json.Marshal(delayedEnvelope{Nonce: uuid.NewString(), Message: message})
	if err != nil {
		return "", fmt.Errorf("encode delayed message: %w", err)
	}
	return string(encoded), nil
}

func decodeDelayed(member string) (domain.QueueMessage, error) {
	var envelope delayedEnvelope
	if err := json.Unmarshal([]byte(member), &envelope); err != nil {
		return domain.QueueMessage{}, fmt.Errorf("decode delayed message: %w", err)
	}
	return envelope.Message, nil
}
