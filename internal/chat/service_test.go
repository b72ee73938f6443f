package chat

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/docchat/docchat/internal/answer"
	"github.com/docchat/docchat/internal/conversation"
	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/retrieval"
)

// TestMain verifies no turn goroutine outlives its stream, including
// after client cancellation.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubRetriever struct {
	block *retrieval.ContextBlock
	err   error
}

func (s *stubRetriever) Retrieve(context.Context, string, string) (*retrieval.ContextBlock, error) {
	return s.block, s.err
}

type stubGenerator struct {
	fragments []string
	failAfter int // emit error fragment after this many; <0 never
	lastBlock *retrieval.ContextBlock
}

func (s *stubGenerator) Generate(ctx context.Context, _ string, block *retrieval.ContextBlock) <-chan answer.Fragment {
	s.lastBlock = block
	out := make(chan answer.Fragment)
	go func() {
		defer close(out)
		send := func(f answer.Fragment) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}
		var full string
		for i, f := range s.fragments {
			if s.failAfter >= 0 && i >= s.failAfter {
				send(answer.Fragment{Err: fmt.Errorf("%w: dropped", answer.ErrInterrupted)})
				return
			}
			full += f
			if !send(answer.Fragment{Text: f}) {
				return
			}
		}
		send(answer.Fragment{Done: true, Answer: full})
	}()
	return out
}

type stubHistory struct {
	conv       conversation.Conversation
	openErr    error
	appendErr  error
	saved      []conversation.Exchange
	lastOpened string
}

func (s *stubHistory) OpenOrCreate(_ context.Context, tenantID, conversationID, firstQuestion string) (*conversation.Conversation, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.lastOpened = conversationID
	c := s.conv
	if c.ID == "" {
		c = conversation.Conversation{ID: "conv-1", TenantID: tenantID, Title: conversation.TitleFor(firstQuestion)}
	}
	return &c, nil
}

func (s *stubHistory) AppendExchange(_ context.Context, conversationID, question, ans string) (*conversation.Exchange, error) {
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	e := conversation.Exchange{ID: int64(len(s.saved) + 1), ConversationID: conversationID, Question: question, Answer: ans}
	s.saved = append(s.saved, e)
	return &e, nil
}

func drain(t *testing.T, ch <-chan Event) ([]string, Event) {
	t.Helper()

	var texts []string
	var terminal Event
	sawTerminal := false
	for e := range ch {
		if e.Done || e.Err != nil {
			require.False(t, sawTerminal, "stream must end with exactly one terminal event")
			sawTerminal = true
			terminal = e
			continue
		}
		texts = append(texts, e.Text)
	}
	require.True(t, sawTerminal)
	return texts, terminal
}

func TestAnswer_FullTurn(t *testing.T) {
	gen := &stubGenerator{fragments: []string{"Hel", "lo", " world"}, failAfter: -1}
	hist := &stubHistory{}
	svc := New(&stubRetriever{block: &retrieval.ContextBlock{Text: "Source: a.txt\nContent: x", Sources: []string{"a.txt"}}}, gen, hist, log.NewNop())

	ch, err := svc.Answer(context.Background(), "u1", "", "what is x?")
	require.NoError(t, err)

	texts, terminal := drain(t, ch)
	assert.Equal(t, []string{"Hel", "lo", " world"}, texts)
	assert.True(t, terminal.Done)
	assert.Equal(t, "Hello world", terminal.Answer)
	assert.Equal(t, "conv-1", terminal.ConversationID)

	require.NotNil(t, terminal.Exchange)
	assert.Equal(t, "what is x?", terminal.Exchange.Question)
	assert.Equal(t, "Hello world", terminal.Exchange.Answer)
	require.Len(t, hist.saved, 1)
}

func TestAnswer_EmptyQuestionRejected(t *testing.T) {
	svc := New(&stubRetriever{}, &stubGenerator{failAfter: -1}, &stubHistory{}, log.NewNop())

	_, err := svc.Answer(context.Background(), "u1", "", "")
	assert.Error(t, err)
}

func TestAnswer_UnknownConversationFailsBeforeStreaming(t *testing.T) {
	hist := &stubHistory{openErr: conversation.ErrNotFound}
	svc := New(&stubRetriever{}, &stubGenerator{failAfter: -1}, hist, log.NewNop())

	_, err := svc.Answer(context.Background(), "u1", "missing", "q")
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestAnswer_RetrievalOutageDegradesToNoContext(t *testing.T) {
	gen := &stubGenerator{fragments: []string{"ungrounded"}, failAfter: -1}
	hist := &stubHistory{}
	svc := New(&stubRetriever{err: fmt.Errorf("searching index: %w", index.ErrUnavailable)}, gen, hist, log.NewNop())

	ch, err := svc.Answer(context.Background(), "u1", "", "q")
	require.NoError(t, err)

	_, terminal := drain(t, ch)
	assert.True(t, terminal.Done)
	require.NotNil(t, gen.lastBlock)
	assert.True(t, gen.lastBlock.Empty, "degraded turn must tell the model context is missing")
	assert.Len(t, hist.saved, 1, "degraded answers are still persisted")
}

func TestAnswer_GenerationFailureNotPersisted(t *testing.T) {
	gen := &stubGenerator{fragments: []string{"par", "tial"}, failAfter: 1}
	hist := &stubHistory{}
	svc := New(&stubRetriever{block: &retrieval.ContextBlock{Empty: true}}, gen, hist, log.NewNop())

	ch, err := svc.Answer(context.Background(), "u1", "", "q")
	require.NoError(t, err)

	texts, terminal := drain(t, ch)
	assert.Equal(t, []string{"par"}, texts)
	assert.ErrorIs(t, terminal.Err, answer.ErrInterrupted)
	assert.Empty(t, hist.saved, "partial answers are never persisted")
}

func TestAnswer_PersistenceFailureDistinctFromGenerationFailure(t *testing.T) {
	gen := &stubGenerator{fragments: []string{"done"}, failAfter: -1}
	hist := &stubHistory{appendErr: fmt.Errorf("%w: disk full", conversation.ErrPersistence)}
	svc := New(&stubRetriever{block: &retrieval.ContextBlock{Empty: true}}, gen, hist, log.NewNop())

	ch, err := svc.Answer(context.Background(), "u1", "", "q")
	require.NoError(t, err)

	_, terminal := drain(t, ch)
	assert.ErrorIs(t, terminal.Err, conversation.ErrPersistence)
	assert.NotErrorIs(t, terminal.Err, answer.ErrInterrupted)
	assert.Equal(t, "done", terminal.Answer, "the client is told the answer exists but was not saved")
}

func TestAnswer_ClientCancellationStopsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	gen := &stubGenerator{fragments: []string{"a", "b", "c"}, failAfter: -1}
	svc := New(&stubRetriever{block: &retrieval.ContextBlock{Empty: true}}, gen, &stubHistory{}, log.NewNop())

	ch, err := svc.Answer(ctx, "u1", "", "q")
	require.NoError(t, err)

	// Consume one fragment, then walk away.
	<-ch
	cancel()

	// The stream must terminate; ranging to close proves it.
	for range ch {
	}
}

func TestAnswer_ExistingConversationReused(t *testing.T) {
	gen := &stubGenerator{fragments: []string{"ok"}, failAfter: -1}
	hist := &stubHistory{conv: conversation.Conversation{ID: "conv-9", TenantID: "u1", Title: "earlier"}}
	svc := New(&stubRetriever{block: &retrieval.ContextBlock{Empty: true}}, gen, hist, log.NewNop())

	ch, err := svc.Answer(context.Background(), "u1", "conv-9", "follow-up")
	require.NoError(t, err)

	_, terminal := drain(t, ch)
	assert.Equal(t, "conv-9", terminal.ConversationID)
	assert.Equal(t, "conv-9", hist.lastOpened)
}
