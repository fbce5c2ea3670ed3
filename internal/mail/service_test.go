package mail

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/threadline/threadline/internal/classify"
	"github.com/threadline/threadline/internal/ids"
	"github.com/threadline/threadline/internal/models"
	"github.com/threadline/threadline/internal/store"
	"github.com/threadline/threadline/internal/threading"
)

// memStore is an in-memory DataStore with the same lifecycle semantics
// as the SQL implementations.
type memStore struct {
	threads  map[string]*models.Thread
	messages map[string]*models.Message
}

func newMemStore() *memStore {
	return &memStore{
		threads:  make(map[string]*models.Thread),
		messages: make(map[string]*models.Message),
	}
}

func (s *memStore) Close()                         {}
func (s *memStore) Ping(ctx context.Context) error { return nil }

func (s *memStore) CreateThread(ctx context.Context, thread *models.Thread) error {
	cp := *thread
	s.threads[thread.ID] = &cp
	return nil
}

func (s *memStore) ThreadByID(ctx context.Context, id string) (*models.Thread, error) {
	return s.threads[id], nil
}

func (s *memStore) ThreadByConversationID(ctx context.Context, conversationID string) (*models.Thread, error) {
	for _, t := range s.threads {
		if conversationID != "" && t.ConversationID == conversationID {
			return t, nil
		}
	}
	return nil, nil
}

func (s *memStore) ThreadByTrackingID(ctx context.Context, trackingID string) (*models.Thread, error) {
	for _, t := range s.threads {
		if trackingID != "" && t.TrackingID == trackingID {
			return t, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListThreads(ctx context.Context, filter store.ThreadFilter) ([]models.Thread, int64, error) {
	var out []models.Thread
	for _, t := range s.threads {
		out = append(out, *t)
	}
	return out, int64(len(out)), nil
}

func (s *memStore) UpdateThread(ctx context.Context, id string, update store.ThreadUpdate) (*models.Thread, error) {
	t := s.threads[id]
	if t == nil {
		return nil, nil
	}
	if update.Status != nil {
		t.Status = models.ThreadStatus(*update.Status)
	}
	if update.IsArchived != nil {
		t.IsArchived = *update.IsArchived
	}
	if update.IsFlagged != nil {
		t.IsFlagged = *update.IsFlagged
	}
	return t, nil
}

func (s *memStore) SetThreadTrackingID(ctx context.Context, id, trackingID string) error {
	if t := s.threads[id]; t != nil && t.TrackingID == "" {
		t.TrackingID = trackingID
	}
	return nil
}

func (s *memStore) AssignMessage(ctx context.Context, threadID, messageID string, receivedAt time.Time, markReplied bool) error {
	t := s.threads[threadID]
	if t == nil {
		return errors.New("thread not found")
	}
	first := t.MessageCount == 0 || t.LastActivityAt.IsZero()
	t.MessageCount++
	if t.FirstMessageID == "" {
		t.FirstMessageID = messageID
	}
	t.LastMessageID = messageID
	if first || receivedAt.After(t.LastActivityAt) {
		t.LastActivityAt = receivedAt
	}
	if markReplied && (t.Status == models.StatusAwaitingReply || t.Status == models.StatusReplied) {
		t.Status = models.StatusReplied
	}
	return nil
}

func (s *memStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	cp := *msg
	s.messages[msg.ID] = &cp
	return nil
}

func (s *memStore) MessageByID(ctx context.Context, id string) (*models.Message, error) {
	return s.messages[id], nil
}

func (s *memStore) MessageByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error) {
	for _, m := range s.messages {
		if providerMessageID != "" && m.ProviderMessageID == providerMessageID {
			return m, nil
		}
	}
	return nil, nil
}

func (s *memStore) MessageByTrackingID(ctx context.Context, trackingID string) (*models.Message, error) {
	for _, m := range s.messages {
		if trackingID != "" && m.TrackingID == trackingID {
			return m, nil
		}
	}
	return nil, nil
}

func (s *memStore) MessageByInternetID(ctx context.Context, internetMessageID string) (*models.Message, error) {
	for _, m := range s.messages {
		if internetMessageID != "" && m.InternetMessageID == internetMessageID {
			return m, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListMessages(ctx context.Context, filter store.MessageFilter) ([]models.Message, int64, error) {
	var out []models.Message
	for _, m := range s.messages {
		out = append(out, *m)
	}
	return out, int64(len(out)), nil
}

func (s *memStore) MessagesByThread(ctx context.Context, threadID string) ([]models.Message, error) {
	var out []models.Message
	for _, m := range s.messages {
		if m.ThreadID == threadID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) UpdateMessage(ctx context.Context, id string, update store.MessageUpdate) (*models.Message, error) {
	m := s.messages[id]
	if m == nil {
		return nil, nil
	}
	if update.IsRead != nil {
		m.IsRead = *update.IsRead
	}
	if update.IsFlagged != nil {
		m.IsFlagged = *update.IsFlagged
	}
	if update.IsArchived != nil {
		m.IsArchived = *update.IsArchived
	}
	if update.Importance != nil {
		m.Importance = *update.Importance
	}
	return m, nil
}

func (s *memStore) SetProviderMessageID(ctx context.Context, id, providerMessageID string) error {
	if m := s.messages[id]; m != nil {
		m.ProviderMessageID = providerMessageID
	}
	return nil
}

func (s *memStore) LatestMessageForParticipant(ctx context.Context, participant string, category models.Category) (*models.Message, error) {
	var best *models.Message
	for _, m := range s.messages {
		t := s.threads[m.ThreadID]
		if t == nil || t.Category != category {
			continue
		}
		involved := m.FromAddress == participant
		for _, to := range m.ToRecipients {
			if to == participant {
				involved = true
			}
		}
		if !involved {
			continue
		}
		if best == nil || m.ReceivedAt.After(best.ReceivedAt) {
			best = m
		}
	}
	return best, nil
}

func (s *memStore) RecentMessages(ctx context.Context, since time.Time, limit int) ([]models.Message, error) {
	var out []models.Message
	for _, m := range s.messages {
		if !m.ReceivedAt.Before(since) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) MessagesInWindow(ctx context.Context, start, end time.Time, limit int) ([]models.Message, error) {
	var out []models.Message
	for _, m := range s.messages {
		if m.ReceivedAt.After(start) && !m.ReceivedAt.After(end) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) CountThreads(ctx context.Context) (int64, error) {
	return int64(len(s.threads)), nil
}

func (s *memStore) CountMessages(ctx context.Context) (int64, error) {
	return int64(len(s.messages)), nil
}

func (s *memStore) CountUnread(ctx context.Context) (int64, error) {
	var n int64
	for _, m := range s.messages {
		if !m.IsRead && m.Direction == models.DirectionIncoming {
			n++
		}
	}
	return n, nil
}

func (s *memStore) BusiestThreads(ctx context.Context, limit int) ([]models.Thread, error) {
	return nil, nil
}

func (s *memStore) LatestActivity(ctx context.Context) (*time.Time, error) {
	return nil, nil
}

// fakeTransport records the last delivery.
type fakeTransport struct {
	sent       []*OutboundEmail
	providerID string
	err        error
}

func (t *fakeTransport) Send(ctx context.Context, out *OutboundEmail) (string, error) {
	if t.err != nil {
		return "", t.err
	}
	t.sent = append(t.sent, out)
	return t.providerID, nil
}

const mailbox = "me@firm.com"

func newTestService(st store.DataStore, transport Transport) *Service {
	classifier := classify.NewKeywordClassifier()
	engine := threading.NewEngine(st, classifier)
	return NewService(st, engine, classifier, transport, mailbox)
}

func inbound(providerID, from, subject string) *models.InboundEmail {
	return &models.InboundEmail{
		ID:      providerID,
		Subject: subject,
		From: &models.Recipient{
			EmailAddress: models.EmailAddress{Address: from},
		},
		ToRecipients: []models.Recipient{
			{EmailAddress: models.EmailAddress{Address: mailbox}},
		},
		ReceivedDateTime: time.Now().UTC().Format(time.RFC3339),
	}
}

func TestIngestCreatesThreadAndMessage(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, nil)

	res, err := svc.Ingest(context.Background(), inbound("prov-1", "client@x.com", "Need help with onboarding"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate {
		t.Fatal("first ingest reported duplicate")
	}
	if res.Decision.Method != threading.MethodNewThread {
		t.Fatalf("expected new thread, got %+v", res.Decision)
	}

	thread := st.threads[res.ThreadID]
	if thread == nil {
		t.Fatal("thread not created")
	}
	if thread.MessageCount != 1 {
		t.Fatalf("message_count = %d, want 1", thread.MessageCount)
	}
	if thread.FirstMessageID != res.MessageID || thread.LastMessageID != res.MessageID {
		t.Fatalf("first/last message ids not set: %+v", thread)
	}
	// Plain inbound mail carries no tracking header, so the thread
	// starts without one.
	if thread.TrackingID != "" {
		t.Fatalf("thread tracking id = %q, want empty", thread.TrackingID)
	}

	msg := st.messages[res.MessageID]
	if msg == nil {
		t.Fatal("message not created")
	}
	if msg.Direction != models.DirectionIncoming || msg.Status != models.MessageReceived {
		t.Fatalf("got direction=%s status=%s", msg.Direction, msg.Status)
	}
}

func TestIngestNewThreadCopiesTrackingHeader(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, nil)

	email := inbound("prov-1", "client@x.com", "Forwarded with our header intact")
	email.InternetMessageHeaders = []models.Header{
		{Name: ids.TrackingHeader, Value: "TL_CLIENT7"},
	}

	res, err := svc.Ingest(context.Background(), email)
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate || !res.Decision.IsNew {
		t.Fatalf("expected a new thread: %+v", res)
	}
	if st.threads[res.ThreadID].TrackingID != "TL_CLIENT7" {
		t.Fatalf("tracking id = %q, want TL_CLIENT7", st.threads[res.ThreadID].TrackingID)
	}
}

func TestIngestMarksThreadReplied(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, nil)

	res, err := svc.Ingest(context.Background(), inbound("prov-1", "client@x.com", "Invoice question"))
	if err != nil {
		t.Fatal(err)
	}

	thread := st.threads[res.ThreadID]
	if thread.Status != models.StatusReplied {
		t.Fatalf("incoming mail should flip status to replied, got %s", thread.Status)
	}
}

func TestIngestDoesNotReopenResolvedThread(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, nil)

	res, err := svc.Ingest(context.Background(), inbound("prov-1", "client@x.com", "Invoice question"))
	if err != nil {
		t.Fatal(err)
	}

	st.threads[res.ThreadID].Status = models.StatusResolved

	second := inbound("prov-2", "client@x.com", "Re: Invoice question")
	res2, err := svc.Ingest(context.Background(), second)
	if err != nil {
		t.Fatal(err)
	}
	if res2.ThreadID != res.ThreadID {
		t.Fatalf("reply landed in a different thread: %s vs %s", res2.ThreadID, res.ThreadID)
	}
	if st.threads[res.ThreadID].Status != models.StatusResolved {
		t.Fatalf("resolved thread was silently reopened: %s", st.threads[res.ThreadID].Status)
	}
}

func TestIngestDuplicateProviderID(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, nil)

	first, err := svc.Ingest(context.Background(), inbound("prov-1", "client@x.com", "Hello from the client"))
	if err != nil {
		t.Fatal(err)
	}

	second, err := svc.Ingest(context.Background(), inbound("prov-1", "client@x.com", "Hello from the client"))
	if err != nil {
		t.Fatal(err)
	}
	if !second.Duplicate {
		t.Fatal("expected duplicate")
	}
	if second.MessageID != first.MessageID || second.ThreadID != first.ThreadID {
		t.Fatalf("duplicate should point at the original: %+v vs %+v", second, first)
	}
	if len(st.messages) != 1 {
		t.Fatalf("duplicate created a new message: %d messages", len(st.messages))
	}
	if st.threads[first.ThreadID].MessageCount != 1 {
		t.Fatal("duplicate bumped the message count")
	}
}

func TestIngestDuplicateRefreshesFlags(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, nil)

	first, err := svc.Ingest(context.Background(), inbound("prov-1", "client@x.com", "Hello from the client"))
	if err != nil {
		t.Fatal(err)
	}
	if st.messages[first.MessageID].IsRead {
		t.Fatal("fresh incoming mail should be unread")
	}

	// The client read the mail; the next sync carries the new state.
	reread := inbound("prov-1", "client@x.com", "Hello from the client")
	reread.IsRead = true
	reread.Importance = "high"

	if _, err := svc.Ingest(context.Background(), reread); err != nil {
		t.Fatal(err)
	}
	msg := st.messages[first.MessageID]
	if !msg.IsRead {
		t.Fatal("read state not refreshed on duplicate")
	}
	if msg.Importance != "high" {
		t.Fatalf("importance = %q, want high", msg.Importance)
	}
}

func TestIngestTrackingDedupeBackfillsProviderID(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, nil)

	// A locally-sent message that the provider has not echoed yet.
	sent := &models.Message{
		ID:         ids.NewMessageID(),
		ThreadID:   ids.NewThreadID(),
		TrackingID: "TL_SENT01",
		Direction:  models.DirectionOutgoing,
	}
	st.messages[sent.ID] = sent

	echo := inbound("prov-echo", mailbox, "Re: earlier mail")
	echo.InternetMessageHeaders = []models.Header{
		{Name: ids.TrackingHeader, Value: "TL_SENT01"},
	}

	res, err := svc.Ingest(context.Background(), echo)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Duplicate || res.MessageID != sent.ID {
		t.Fatalf("echo not recognized: %+v", res)
	}
	if sent.ProviderMessageID != "prov-echo" {
		t.Fatalf("provider id not backfilled: %q", sent.ProviderMessageID)
	}
}

func TestIngestOutgoingDirection(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, nil)

	out := inbound("prov-1", mailbox, "Following up on documents")
	out.ToRecipients = []models.Recipient{
		{EmailAddress: models.EmailAddress{Address: "client@x.com"}},
	}

	res, err := svc.Ingest(context.Background(), out)
	if err != nil {
		t.Fatal(err)
	}
	msg := st.messages[res.MessageID]
	if msg.Direction != models.DirectionOutgoing || msg.Status != models.MessageSent {
		t.Fatalf("got direction=%s status=%s", msg.Direction, msg.Status)
	}
	// Our own mail must not mark the thread replied.
	if st.threads[res.ThreadID].Status != models.StatusAwaitingReply {
		t.Fatalf("outgoing mail flipped status: %s", st.threads[res.ThreadID].Status)
	}
}

func TestIngestFirstMessageSetsActivityEvenWhenOld(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, nil)

	old := inbound("prov-1", "client@x.com", "An old message from the archive")
	old.ReceivedDateTime = "2020-01-01T00:00:00Z"

	res, err := svc.Ingest(context.Background(), old)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if !st.threads[res.ThreadID].LastActivityAt.Equal(want) {
		t.Fatalf("last_activity_at = %v, want %v", st.threads[res.ThreadID].LastActivityAt, want)
	}
}

func TestIngestBatchOrder(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, nil)

	batch := []models.InboundEmail{
		*inbound("prov-1", "client@x.com", "Opening a conversation"),
		*inbound("prov-2", "client@x.com", "Re: Opening a conversation"),
	}
	results, err := svc.IngestBatch(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[1].ThreadID != results[0].ThreadID {
		t.Fatal("reply in the same batch should join the thread created moments before")
	}
}

func TestSendWithoutTransport(t *testing.T) {
	svc := newTestService(newMemStore(), nil)

	_, err := svc.Send(context.Background(), &SendRequest{
		To:      []string{"client@x.com"},
		Subject: "Hello",
	})
	if !errors.Is(err, ErrNoTransport) {
		t.Fatalf("expected ErrNoTransport, got %v", err)
	}
}

func TestSendNewThread(t *testing.T) {
	st := newMemStore()
	transport := &fakeTransport{providerID: "prov-sent"}
	svc := newTestService(st, transport)

	res, err := svc.Send(context.Background(), &SendRequest{
		To:       []string{"Client@X.com"},
		Subject:  "Please send the missing documents",
		BodyText: "We still need your bank statements.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision.Method != threading.MethodNewThread || !res.Decision.IsNew {
		t.Fatalf("new-thread send mis-tagged: %+v", res.Decision)
	}

	if len(transport.sent) != 1 {
		t.Fatalf("transport called %d times", len(transport.sent))
	}
	delivered := transport.sent[0]
	if delivered.Headers[ids.TrackingHeader] == "" {
		t.Fatal("outbound mail missing tracking header")
	}

	msg := st.messages[res.MessageID]
	if msg == nil {
		t.Fatal("message not stored")
	}
	if msg.ProviderMessageID != "prov-sent" {
		t.Fatalf("provider id = %q", msg.ProviderMessageID)
	}
	if msg.Direction != models.DirectionOutgoing || msg.Status != models.MessageSent {
		t.Fatalf("got direction=%s status=%s", msg.Direction, msg.Status)
	}
	if len(msg.ToRecipients) != 1 || msg.ToRecipients[0] != "client@x.com" {
		t.Fatalf("recipients not normalized: %v", msg.ToRecipients)
	}

	thread := st.threads[res.ThreadID]
	if thread == nil || thread.MessageCount != 1 {
		t.Fatalf("thread not updated: %+v", thread)
	}
	if thread.Category != models.CategoryDocRequest {
		t.Fatalf("category = %s", thread.Category)
	}
	if msg.TrackingID != thread.TrackingID {
		t.Fatal("message and thread tracking ids should match for a new thread")
	}
}

func TestSendIntoExistingThread(t *testing.T) {
	st := newMemStore()
	transport := &fakeTransport{}
	svc := newTestService(st, transport)

	first, err := svc.Ingest(context.Background(), inbound("prov-1", "client@x.com", "Question about my filing"))
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.Send(context.Background(), &SendRequest{
		ThreadID: first.ThreadID,
		To:       []string{"client@x.com"},
		Subject:  "Re: Question about my filing",
		BodyText: "Answer attached.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ThreadID != first.ThreadID {
		t.Fatalf("reply created a new thread: %s", res.ThreadID)
	}
	if res.Decision.Method != MethodExplicitThread || res.Decision.IsNew {
		t.Fatalf("explicit-thread send mis-tagged: %+v", res.Decision)
	}
	if st.threads[first.ThreadID].MessageCount != 2 {
		t.Fatalf("message_count = %d, want 2", st.threads[first.ThreadID].MessageCount)
	}

	// The ingest-created thread had no tracking id; the first outbound
	// send mints one and backfills the thread.
	thread := st.threads[first.ThreadID]
	if !strings.HasPrefix(thread.TrackingID, ids.TrackingPrefix) {
		t.Fatalf("tracking id not backfilled on send: %q", thread.TrackingID)
	}
	if transport.sent[0].Headers[ids.TrackingHeader] != thread.TrackingID {
		t.Fatal("reply should carry the thread's tracking id")
	}
}

func TestSendUnknownThread(t *testing.T) {
	svc := newTestService(newMemStore(), &fakeTransport{})

	_, err := svc.Send(context.Background(), &SendRequest{
		ThreadID: ids.NewThreadID(),
		To:       []string{"client@x.com"},
		Subject:  "Hello",
	})
	if !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound, got %v", err)
	}
}

func TestSendTransportFailureRecordsFailedMessage(t *testing.T) {
	st := newMemStore()
	transport := &fakeTransport{err: errors.New("bridge down")}
	svc := newTestService(st, transport)

	_, err := svc.Send(context.Background(), &SendRequest{
		To:      []string{"client@x.com"},
		Subject: "Will not go out",
	})
	if err == nil {
		t.Fatal("expected delivery error")
	}

	var failed *models.Message
	for _, m := range st.messages {
		failed = m
	}
	if failed == nil {
		t.Fatal("failed send should still be recorded")
	}
	if failed.Status != models.MessageFailed {
		t.Fatalf("status = %s, want failed", failed.Status)
	}
}
