// Package events provides the id service and publisher contract for the
// queue envelope.
package events

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// IDService mints the envelope identifiers. The wire formats are
// msg_<base36-time>_<16hex> and corr_<base36-time>_<12hex>.
type IDService interface {
	EventID() string
	CorrelationID() string
}

type idService struct {
	now func() time.Time
}

func NewIDService() IDService {
	return &idService{now: time.Now}
}

func (s *idService) EventID() string {
	return "msg_" + strconv.FormatInt(s.now().UnixMilli(), 36) + "_" + randomHex(16)
}

func (s *idService) CorrelationID() string {
	return "corr_" + strconv.FormatInt(s.now().UnixMilli(), 36) + "_" + randomHex(12)
}

func randomHex(n int) string {
	u := uuid.New()
	h := hex.EncodeToString(u[:])
	return h[:n]
}
