package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const (
	StreamName      = "NFTWATCH"
	StreamRetention = 30 * 24 * time.Hour
)

// Message is the JSON document published for every notification.
type Message struct {
	Hash       string     `json:"hash"`
	Kind       string     `json:"kind"`
	Issuer     string     `json:"issuer"`
	NFTokenID  string     `json:"nftoken_id"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
	Name       string     `json:"name,omitempty"`
	ImageURL   string     `json:"image_url,omitempty"`
	Buyer      string     `json:"buyer,omitempty"`
	Seller     string     `json:"seller,omitempty"`
	PriceDrops int64      `json:"price_drops,omitempty"`
	Text       string     `json:"text"`
}

// publisher is the part of jetstream.JetStream the sink uses.
type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStream publishes notifications to {prefix}.{kind}.{issuer}.
type JetStream struct {
	nc     *nats.Conn
	js     publisher
	prefix string
	issuer string
}

// NewJetStream connects to NATS and makes sure the stream exists.
func NewJetStream(ctx context.Context, natsURL, prefix, issuer string) (*JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("nftwatch-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := ensureStream(ctx, js, prefix); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	zap.L().Info("NATS publisher initialized", zap.String("url", natsURL), zap.String("stream", StreamName))
	return &JetStream{nc: nc, js: js, prefix: prefix, issuer: issuer}, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, prefix string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	zap.L().Info("Creating JetStream stream", zap.String("stream", StreamName))
	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "NFT sales and mints",
		Subjects:    []string{prefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

func (j *JetStream) Name() string {
	return "nats"
}

func (j *JetStream) Subject(kind string) string {
	return strings.Join([]string{j.prefix, kind, j.issuer}, ".")
}

func (j *JetStream) Notify(ctx context.Context, n Notification) error {
	data, err := json.Marshal(NewMessage(n, j.issuer))
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	subject := j.Subject(string(n.Event.Kind))
	// the hash as message id lets JetStream drop duplicates inside its window
	if _, err := j.js.Publish(ctx, subject, data, jetstream.WithMsgID(n.Event.Hash)); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	zap.L().Debug("Published notification", zap.String("subject", subject), zap.String("hash", n.Event.Hash))
	return nil
}

func (j *JetStream) Close() error {
	if j.nc != nil {
		j.nc.Close()
	}
	return nil
}

func NewMessage(n Notification, issuer string) Message {
	ev := n.Event
	msg := Message{
		Hash:      ev.Hash,
		Kind:      string(ev.Kind),
		Issuer:    issuer,
		NFTokenID: ev.NFTokenID(),
		Name:      n.Meta.Name,
		ImageURL:  n.ImageURL,
		Text:      n.Text,
	}
	if !ev.OccurredAt.IsZero() {
		t := ev.OccurredAt.UTC()
		msg.OccurredAt = &t
	}
	if ev.Sale != nil {
		msg.Buyer = ev.Sale.Buyer
		msg.Seller = ev.Sale.Seller
		msg.PriceDrops = ev.Sale.PriceDrops
	}
	return msg
}
