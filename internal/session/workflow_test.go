package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/reshaper/internal/conversation"
	"github.com/MikeSquared-Agency/reshaper/internal/dataset"
	"github.com/MikeSquared-Agency/reshaper/internal/formats"
	"github.com/MikeSquared-Agency/reshaper/internal/hermes"
	"github.com/MikeSquared-Agency/reshaper/internal/rowexec"
	"github.com/MikeSquared-Agency/reshaper/internal/verify"
)

const sampleCSV = "date,location,value\n2024-01-01,US,5\n2024-01-02,US,7\n2024-01-03,CA,9\n"

const perRowReply = "Here you go:\n```python\nreturn {\"d\": row[\"date\"], \"v\": int(row[\"value\"])}\n```"

const fixedReply = "Fixed:\n```python\nreturn {\"d\": row[\"date\"], \"loc\": row[\"location\"], \"v\": int(row[\"value\"])}\n```"

type fakeAssistant struct {
	mu       sync.Mutex
	greeting string
	replies  []string
	chatErr  error
	chats    []conversation.ModelContext
	greets   int
}

func (f *fakeAssistant) Chat(_ context.Context, mc conversation.ModelContext) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, mc)
	if f.chatErr != nil {
		return "", f.chatErr
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func (f *fakeAssistant) Greet(_ context.Context, _ conversation.ModelContext) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.greets++
	return f.greeting, nil
}

func (f *fakeAssistant) Summarize(_ context.Context, _ string, _ []conversation.Message) (string, error) {
	return "summary", nil
}

type scriptedVerifier struct {
	verdicts []string
	calls    int
}

func (v *scriptedVerifier) Verify(_ context.Context, _ verify.Request) (string, error) {
	i := v.calls
	if i >= len(v.verdicts) {
		i = len(v.verdicts) - 1
	}
	v.calls++
	return v.verdicts[i], nil
}

type recordingBus struct {
	mu       sync.Mutex
	subjects []string
}

func (b *recordingBus) Publish(subject string, _ any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subject)
	return nil
}

type fixture struct {
	wf        *Workflow
	assistant *fakeAssistant
	verifier  *scriptedVerifier
	bus       *recordingBus
}

func newFixture(t *testing.T, verdicts ...string) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	provider, err := formats.NewProvider(nil, logger)
	require.NoError(t, err)

	if len(verdicts) == 0 {
		verdicts = []string{verify.AcceptToken}
	}
	f := &fixture{
		assistant: &fakeAssistant{greeting: "Hi! What format do you need?", replies: []string{perRowReply}},
		verifier:  &scriptedVerifier{verdicts: verdicts},
		bus:       &recordingBus{},
	}
	f.wf = NewWorkflow(
		NewRegistry(0, logger),
		rowexec.New(rowexec.WithLogger(logger)),
		f.assistant,
		verify.NewLoop(f.verifier, logger),
		provider,
		hermes.NewPublisher(f.bus, logger),
		Config{MaxRounds: 2},
		logger,
	)
	return f
}

func (f *fixture) start(t *testing.T) View {
	t.Helper()
	v, err := f.wf.Start(context.Background(), Upload{
		FileName:  "cases.csv",
		Data:      []byte(sampleCSV),
		HasHeader: true,
	})
	require.NoError(t, err)
	return v
}

func lastNotice(v View) string {
	for i := len(v.History) - 1; i >= 0; i-- {
		if v.History[i].Role == conversation.RoleSystem {
			return v.History[i].Content
		}
	}
	return ""
}

func TestStartGreets(t *testing.T) {
	f := newFixture(t)
	v := f.start(t)

	assert.NotEmpty(t, v.ID)
	assert.Equal(t, 3, v.InputRows)
	assert.Equal(t, []string{"date", "location", "value"}, v.Columns)
	assert.Equal(t, formats.DefaultKey, v.Format.Key)
	require.Len(t, v.History, 1)
	assert.Equal(t, conversation.RoleAssistant, v.History[0].Role)
	assert.Equal(t, "Hi! What format do you need?", v.History[0].Content)
	assert.Nil(t, v.Transform)
	assert.Equal(t, []string{hermes.SubjectSessionStarted}, f.bus.subjects)
}

func TestStartRejectsEmptyFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.wf.Start(context.Background(), Upload{FileName: "empty.csv", HasHeader: true})
	assert.ErrorIs(t, err, dataset.ErrEmpty)
}

func TestStartUnknownFormat(t *testing.T) {
	f := newFixture(t)
	_, err := f.wf.Start(context.Background(), Upload{
		FileName:  "cases.csv",
		Data:      []byte(sampleCSV),
		HasHeader: true,
		Format:    formats.Selection{Key: "nope"},
	})
	assert.ErrorIs(t, err, formats.ErrUnknownFormat)
}

func TestSendMessageAcceptedPreview(t *testing.T) {
	f := newFixture(t)
	v := f.start(t)

	v, err := f.wf.SendMessage(context.Background(), v.ID, "dates and values please")
	require.NoError(t, err)

	require.NotNil(t, v.Transform)
	assert.Equal(t, 1, v.Transform.Revision)
	assert.Empty(t, v.Transform.Diff)
	assert.False(t, v.Transform.AppliesToFullDataset)
	require.NotNil(t, v.Transform.LastResult)
	res := v.Transform.LastResult
	require.True(t, res.OK())
	assert.Equal(t, rowexec.ModePerRow, res.Mode)
	assert.Equal(t, []string{"d", "v"}, res.Columns)
	require.Len(t, res.Records, 3)
	assert.Equal(t, dataset.Record{"d": "2024-01-01", "v": int64(5)}, res.Records[0])

	assert.Equal(t, 1, f.verifier.calls)
	assert.Equal(t, 0, v.Verification.RoundsUsed)
	assert.Len(t, v.History, 3)
	assert.Contains(t, f.bus.subjects, hermes.SubjectTransformPreviewed)
}

func TestSendMessageSelfCorrects(t *testing.T) {
	f := newFixture(t, "The location column is missing.", verify.AcceptToken)
	f.assistant.replies = []string{perRowReply, fixedReply}
	v := f.start(t)

	v, err := f.wf.SendMessage(context.Background(), v.ID, "keep the location too")
	require.NoError(t, err)

	require.Len(t, f.assistant.chats, 2)
	retry := f.assistant.chats[1].Messages
	last := retry[len(retry)-1]
	assert.Equal(t, conversation.RoleAssistant, last.Role)
	assert.Equal(t, verify.FeedbackMessage("The location column is missing."), last.Content)

	assert.Equal(t, 2, f.verifier.calls)
	assert.Equal(t, 0, v.Verification.RoundsUsed)
	require.NotNil(t, v.Transform)
	assert.Equal(t, 2, v.Transform.Revision)
	assert.Contains(t, v.Transform.Diff, "+ ")
	assert.Contains(t, v.Transform.Diff, "- ")
	assert.Equal(t, []string{"d", "loc", "v"}, v.Transform.LastResult.Columns)

	for _, m := range v.History {
		assert.NotContains(t, m.Content, "I checked the output")
	}
	assert.Contains(t, f.bus.subjects, hermes.SubjectVerificationRejected)
}

func TestSendMessageStopsAfterMaxRounds(t *testing.T) {
	f := newFixture(t, "still wrong")
	v := f.start(t)

	v, err := f.wf.SendMessage(context.Background(), v.ID, "convert")
	require.NoError(t, err)

	assert.Len(t, f.assistant.chats, 3)
	assert.Equal(t, 2, f.verifier.calls)
	assert.Equal(t, 2, v.Verification.RoundsUsed)
	assert.True(t, v.Transform.LastResult.OK())
}

func TestSendMessageWithoutCode(t *testing.T) {
	f := newFixture(t)
	f.assistant.replies = []string{"Which column holds the date?"}
	v := f.start(t)

	v, err := f.wf.SendMessage(context.Background(), v.ID, "hubverse please")
	require.NoError(t, err)
	assert.Nil(t, v.Transform)
	assert.Zero(t, f.verifier.calls)
}

func TestSendMessageRowFailure(t *testing.T) {
	f := newFixture(t)
	f.assistant.replies = []string{"```python\nif index == 1:\n    fail(\"bad value\")\nreturn row\n```"}
	v := f.start(t)

	v, err := f.wf.SendMessage(context.Background(), v.ID, "go")
	require.NoError(t, err)

	require.NotNil(t, v.Transform.LastResult)
	failure := v.Transform.LastResult.Failure
	require.NotNil(t, failure)
	assert.Equal(t, rowexec.FailureRow, failure.Kind)
	require.NotNil(t, failure.Row)
	assert.Equal(t, 1, *failure.Row)
	assert.True(t, strings.HasPrefix(lastNotice(v), "Transformation error: Error at row 1"))
	assert.Zero(t, f.verifier.calls)
	assert.Contains(t, f.bus.subjects, hermes.SubjectTransformFailed)
}

func TestSendMessageAssistantFailure(t *testing.T) {
	f := newFixture(t)
	v := f.start(t)
	f.assistant.chatErr = errors.New("upstream 503")

	v, err := f.wf.SendMessage(context.Background(), v.ID, "hello")
	require.ErrorIs(t, err, ErrAssistant)

	require.Len(t, v.History, 3)
	assert.Equal(t, conversation.RoleUser, v.History[1].Role)
	assert.Contains(t, lastNotice(v), "upstream 503")
}

func TestSendMessageUnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.wf.SendMessage(context.Background(), "not-a-uuid", "hi")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransformAllAndExport(t *testing.T) {
	f := newFixture(t)
	v := f.start(t)
	_, err := f.wf.SendMessage(context.Background(), v.ID, "convert")
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = f.wf.Export(v.ID, ScopeFull, &buf)
	assert.ErrorIs(t, err, ErrNoOutput)

	v, err = f.wf.TransformAll(context.Background(), v.ID)
	require.NoError(t, err)
	require.NotNil(t, v.OutputRows)
	assert.Equal(t, 3, *v.OutputRows)
	assert.True(t, v.Transform.AppliesToFullDataset)
	assert.Equal(t, "Successfully transformed all 3 input rows into 3 output rows!", lastNotice(v))
	assert.Contains(t, f.bus.subjects, hermes.SubjectTransformCompleted)

	name, err := f.wf.Export(v.ID, ScopeFull, &buf)
	require.NoError(t, err)
	assert.Equal(t, "cases_transformed.csv", name)
	assert.Equal(t, "d,v\n2024-01-01,5\n2024-01-02,7\n2024-01-03,9\n", buf.String())

	buf.Reset()
	name, err = f.wf.Export(v.ID, ScopePreview, &buf)
	require.NoError(t, err)
	assert.Equal(t, "cases_preview.csv", name)
	assert.True(t, strings.HasPrefix(buf.String(), "d,v\n"))
}

func TestTransformAllWithoutCode(t *testing.T) {
	f := newFixture(t)
	v := f.start(t)

	_, err := f.wf.TransformAll(context.Background(), v.ID)
	assert.ErrorIs(t, err, ErrNoTransform)
}

func TestTransformAllResetsRounds(t *testing.T) {
	f := newFixture(t, "not quite")
	v := f.start(t)
	v, err := f.wf.SendMessage(context.Background(), v.ID, "convert")
	require.NoError(t, err)
	require.Equal(t, 2, v.Verification.RoundsUsed)

	v, err = f.wf.TransformAll(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Verification.RoundsUsed)
}

func TestSetHeaderModeReparses(t *testing.T) {
	f := newFixture(t)
	v := f.start(t)
	_, err := f.wf.SendMessage(context.Background(), v.ID, "convert")
	require.NoError(t, err)

	v, err = f.wf.SetHeaderMode(context.Background(), v.ID, false)
	require.NoError(t, err)

	assert.False(t, v.HasHeader)
	assert.Equal(t, 4, v.InputRows)
	assert.Equal(t, []string{"column_1", "column_2", "column_3"}, v.Columns)
	assert.Nil(t, v.Transform)
	require.Len(t, v.History, 1)
	assert.Equal(t, 2, f.assistant.greets)
}

func TestSetFormat(t *testing.T) {
	f := newFixture(t)
	v := f.start(t)
	_, err := f.wf.SendMessage(context.Background(), v.ID, "convert")
	require.NoError(t, err)

	_, err = f.wf.SetFormat(context.Background(), v.ID, formats.Selection{Key: "nope"})
	assert.ErrorIs(t, err, formats.ErrUnknownFormat)

	v, err = f.wf.SetFormat(context.Background(), v.ID, formats.Selection{Key: formats.CustomKey, Custom: "weekly totals"})
	require.NoError(t, err)
	assert.Equal(t, formats.CustomKey, v.Format.Key)
	assert.Nil(t, v.Transform)
	assert.Len(t, v.History, 1)

	greets := f.assistant.greets
	_, err = f.wf.SetFormat(context.Background(), v.ID, formats.Selection{Key: formats.CustomKey, Custom: "weekly totals"})
	require.NoError(t, err)
	assert.Equal(t, greets, f.assistant.greets)
}

func TestResetAndDelete(t *testing.T) {
	f := newFixture(t)
	v := f.start(t)
	_, err := f.wf.SendMessage(context.Background(), v.ID, "convert")
	require.NoError(t, err)

	v, err = f.wf.Reset(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Nil(t, v.Transform)
	assert.Equal(t, 3, v.InputRows)
	assert.Len(t, v.History, 1)

	require.NoError(t, f.wf.Delete(v.ID))
	_, err = f.wf.View(v.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.wf.Delete(v.ID), ErrNotFound)
}
