package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/conversation-router/internal/jetstream"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
)

// ErrRejected is returned when the gateway answered but refused the message.
var ErrRejected = errors.New("provider rejected message")

// NATSSender sends outbound messages through the provider gateway with NATS
// request-reply. Each channel has its own subject: <prefix>.<channel>.
type NATSSender struct {
	client  jetstream.ClientInterface
	prefix  string
	timeout time.Duration
}

// NewNATSSender creates a sender publishing requests under subjectPrefix.
func NewNATSSender(client jetstream.ClientInterface, subjectPrefix string, timeout time.Duration) *NATSSender {
	return &NATSSender{client: client, prefix: subjectPrefix, timeout: timeout}
}

// Subject returns the request subject for channel.
func (s *NATSSender) Subject(channel model.Channel) string {
	return s.prefix + "." + string(channel)
}

// Send asks the gateway to deliver content to peer and returns the provider message id.
func (s *NATSSender) Send(ctx context.Context, tenantID int64, channel model.Channel, peer model.IdentityKey, content map[string]interface{}) (string, error) {
	body, err := json.Marshal(model.ProviderSendRequest{
		TenantID: tenantID,
		Channel:  channel,
		Peer:     peer,
		Content:  content,
	})
	if err != nil {
		return "", fmt.Errorf("marshal send request: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	requestID := uuid.NewString()
	subject := s.Subject(channel)
	data, err := s.client.Request(ctx, subject, body, map[string]string{
		"Nats-Msg-Id": requestID,
		"Tenant-Id":   strconv.FormatInt(tenantID, 10),
	})
	if err != nil {
		logger.FromContext(ctx).Warn("Provider request failed",
			zap.String("subject", subject),
			zap.String("request_id", requestID),
			zap.Error(err))
		return "", fmt.Errorf("%w: %w", apperrors.ErrNATS, err)
	}

	var reply model.ProviderSendReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("decode provider reply: %w", err)
	}
	if reply.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrRejected, reply.Error)
	}
	if reply.ProviderMessageID == "" {
		return "", fmt.Errorf("%w: reply without message id", ErrRejected)
	}
	return reply.ProviderMessageID, nil
}
