package channel

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/circuitbreaker"
	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/redis"
)

type stubSender struct {
	channel db.Channel
	err     error
	calls   int
}

func (s *stubSender) Send(context.Context, Message) error {
	s.calls++
	return s.err
}

func (s *stubSender) SupportsChannel(ch db.Channel) bool {
	return ch == s.channel
}

func testMessage(ch db.Channel, recipient string) Message {
	return Message{
		NotificationID: uuid.New(),
		UserID:         uuid.New(),
		Channel:        ch,
		Recipient:      recipient,
		Title:          "Task created",
		Description:    "A task was created",
	}
}

func TestRegistry_FirstSupportingSenderWins(t *testing.T) {
	email := &stubSender{channel: db.ChannelEmail}
	fallback := NewLogSender(zap.NewNop())
	registry := NewRegistry(zap.NewNop(), email, fallback)

	tests := []struct {
		channel db.Channel
		want    Sender
	}{
		{db.ChannelEmail, email},
		{db.ChannelSMS, fallback},
		{db.ChannelInApp, fallback},
	}

	for _, tt := range tests {
		t.Run(string(tt.channel), func(t *testing.T) {
			got, ok := registry.Lookup(tt.channel)
			if !ok {
				t.Fatalf("Lookup(%s) found nothing", tt.channel)
			}
			if got != tt.want {
				t.Errorf("Lookup(%s) = %T, want %T", tt.channel, got, tt.want)
			}
		})
	}
}

func TestRegistry_MissingSender(t *testing.T) {
	registry := NewRegistry(zap.NewNop(), &stubSender{channel: db.ChannelEmail})

	if _, ok := registry.Lookup(db.ChannelSMS); ok {
		t.Error("Lookup(sms) should find nothing")
	}
	if _, ok := registry.Lookup(db.ChannelEmail); !ok {
		t.Error("Lookup(email) should find the stub sender")
	}
}

func TestLogSender(t *testing.T) {
	sender := NewLogSender(zap.NewNop())
	for _, ch := range db.Channels {
		if !sender.SupportsChannel(ch) {
			t.Errorf("LogSender should support %s", ch)
		}
		if err := sender.Send(context.Background(), testMessage(ch, "x")); err != nil {
			t.Errorf("Send(%s) error = %v", ch, err)
		}
	}
	if sender.SupportsChannel("webhook") {
		t.Error("LogSender should not support unknown channels")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sender.Send(ctx, testMessage(db.ChannelEmail, "x")); err == nil {
		t.Error("Send() with cancelled context should fail")
	}
}

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESSender(t *testing.T) {
	fake := &fakeSES{}
	sender := &SESSender{client: fake, from: "noreply@example.com", logger: zap.NewNop()}

	if err := sender.Send(context.Background(), testMessage(db.ChannelEmail, "bob@example.com")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := fake.input.Destination.ToAddresses[0]; got != "bob@example.com" {
		t.Errorf("to = %s, want bob@example.com", got)
	}
	if got := aws.ToString(fake.input.Message.Subject.Data); got != "Task created" {
		t.Errorf("subject = %s, want Task created", got)
	}

	if err := sender.Send(context.Background(), testMessage(db.ChannelSMS, "+1555")); err == nil {
		t.Error("SES sender should reject sms")
	}
	if err := sender.Send(context.Background(), testMessage(db.ChannelEmail, "")); err == nil {
		t.Error("SES sender should reject an empty recipient")
	}

	fake.err = errors.New("throttled")
	if err := sender.Send(context.Background(), testMessage(db.ChannelEmail, "bob@example.com")); err == nil {
		t.Error("SES error should propagate")
	}
}

type fakeSNS struct {
	input *sns.PublishInput
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

func TestSNSSender(t *testing.T) {
	fake := &fakeSNS{}
	sender := &SNSSender{client: fake, logger: zap.NewNop()}

	if err := sender.Send(context.Background(), testMessage(db.ChannelSMS, "+15550100")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := aws.ToString(fake.input.PhoneNumber); got != "+15550100" {
		t.Errorf("phone = %s, want +15550100", got)
	}
	if got := aws.ToString(fake.input.Message); got != "Task created: A task was created" {
		t.Errorf("message = %q", got)
	}
	if sender.SupportsChannel(db.ChannelEmail) {
		t.Error("SNS sender should not support email")
	}
}

func TestInboxSender(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("invalid miniredis port %q: %v", mr.Port(), err)
	}
	client, err := redis.New(context.Background(), redis.Config{Host: mr.Host(), Port: port}, zap.NewNop())
	if err != nil {
		t.Fatalf("redis.New() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	inbox := redis.NewInbox(client, zap.NewNop(), 10)
	sender := NewInboxSender(inbox, zap.NewNop())

	userID := uuid.New()
	msg := testMessage(db.ChannelInApp, userID.String())
	if err := sender.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	entries, err := inbox.List(context.Background(), userID.String(), 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].NotificationID != msg.NotificationID.String() {
		t.Errorf("unexpected inbox contents: %+v", entries)
	}
}

func TestProtectedSender_FailsFastWhenOpen(t *testing.T) {
	downstream := &stubSender{channel: db.ChannelSMS, err: errors.New("sns unavailable")}
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:            "sns",
		MaxFailures:     2,
		RecoveryTimeout: time.Hour,
	}, zap.NewNop())
	sender := NewProtectedSender(downstream, breaker, zap.NewNop())

	for i := 0; i < 2; i++ {
		if err := sender.Send(context.Background(), testMessage(db.ChannelSMS, "+1555")); err == nil {
			t.Fatalf("send %d should fail", i)
		}
	}

	err := sender.Send(context.Background(), testMessage(db.ChannelSMS, "+1555"))
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if downstream.calls != 2 {
		t.Errorf("downstream calls = %d, want 2", downstream.calls)
	}
	if !sender.SupportsChannel(db.ChannelSMS) {
		t.Error("protected sender should delegate SupportsChannel")
	}
}
