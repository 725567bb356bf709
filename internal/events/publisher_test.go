package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"complyflow/backend/internal/logging"
	"complyflow/backend/pkg/models"
)

type recordingConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (c *recordingConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func TestNATSPublisher_Publish(t *testing.T) {
	nc := &recordingConn{}
	p := NewNATSPublisher(nc, "", logging.Nop())

	p.Publish(context.Background(), &models.WorkflowEvent{
		Type:       models.EventInstanceCompleted,
		OrgID:      "org-1",
		InstanceID: "inst-1",
		Status:     "completed",
	})

	require.Len(t, nc.subjects, 1)
	assert.Equal(t, "complyflow.workflows.org-1.instance.completed", nc.subjects[0])

	var got models.WorkflowEvent
	require.NoError(t, json.Unmarshal(nc.payloads[0], &got))
	assert.Equal(t, "inst-1", got.InstanceID)
	assert.Equal(t, models.EventInstanceCompleted, got.Type)
}

func TestNATSPublisher_FailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	nc := &recordingConn{err: errors.New("connection closed")}
	p := NewNATSPublisher(nc, "acme.wf.", logging.New(&buf, "debug", false))

	assert.NotPanics(t, func() {
		p.Publish(context.Background(), &models.WorkflowEvent{Type: models.EventInstanceCreated, OrgID: "org-1"})
	})
	assert.Contains(t, buf.String(), "acme.wf.org-1.instance.created")
	assert.Contains(t, buf.String(), "connection closed")
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop{}.Publish(context.Background(), &models.WorkflowEvent{})
	})
}
