package delivery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/busybox42/sockmailer/internal/smtp"
)

func TestTracker(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	tr.Start("one", now)
	tr.Start("two", now)
	assert.Equal(t, int64(2), tr.Stats().ActiveSends)

	tr.Finish("one", &Result{
		Success:    true,
		Duration:   2 * time.Second,
		Recipients: []RecipientResult{{Recipient: "a@x.com", Success: true}},
	})
	tr.Finish("two", &Result{
		Failed:   1,
		Duration: 4 * time.Second,
		Recipients: []RecipientResult{
			{Recipient: "b@x.com", Success: true},
			{Recipient: "c@x.com", Kind: smtp.KindProtocol, Err: errors.New("550")},
		},
	})
	// unknown ids are ignored
	tr.Finish("three", &Result{Success: true})

	stats := tr.Stats()
	assert.Equal(t, int64(2), stats.TotalSends)
	assert.Equal(t, int64(0), stats.ActiveSends)
	assert.Equal(t, int64(1), stats.SuccessfulSends)
	assert.Equal(t, int64(1), stats.FailedSends)
	assert.Equal(t, int64(3), stats.TotalRecipients)
	assert.Equal(t, int64(2), stats.DeliveredRecipients)
	assert.Equal(t, int64(1), stats.FailedRecipients)
	assert.Equal(t, map[string]int64{"protocol": 1}, stats.ErrorsByKind)
	assert.Equal(t, 3*time.Second, stats.AverageSendTime)
	assert.Equal(t, 4*time.Second, stats.MaxSendTime)

	// snapshots do not alias
	stats.ErrorsByKind["protocol"] = 99
	assert.Equal(t, int64(1), tr.Stats().ErrorsByKind["protocol"])
}
