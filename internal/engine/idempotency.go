package engine

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// StepIdempotencyKey возвращает hex(sha256(runID ":" nodeID)).
//
// Ключ одинаков для всех доставок одного шага, поэтому коннекторы
// могут передавать его во внешние системы для дедупликации.
func StepIdempotencyKey(runID uuid.UUID, nodeID string) string {
	sum := sha256.Sum256([]byte(runID.String() + ":" + nodeID))
	return hex.EncodeToString(sum[:])
}
