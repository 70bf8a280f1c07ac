package synthesize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"corpusrag/internal/graphrag/llmclient"
	"corpusrag/internal/graphrag/types"
)

type fakeLLM struct {
	text string
	err  error
}

func (f fakeLLM) Complete(context.Context, llmclient.Request) (llmclient.Result, error) {
	if f.err != nil {
		return llmclient.Result{}, f.err
	}
	return llmclient.Result{Text: f.text, FinishReason: llmclient.FinishStop}, nil
}

func sampleContext() types.DistilledContext {
	return types.DistilledContext{
		Candidates: []types.Candidate{
			{ChunkID: "c1", DocID: "doc1", Text: "Acme Corp shall pay invoices within thirty days."},
			{ChunkID: "c2", DocID: "doc1", Text: "Termination requires sixty days written notice."},
		},
	}
}

func TestSynthesize_NoEvidenceRefusesWithoutCallingLLM(t *testing.T) {
	s := New(fakeLLM{err: context.DeadlineExceeded})
	res, err := s.Synthesize(context.Background(), "What are the terms?", types.DistilledContext{}, 1000)
	require.NoError(t, err)
	require.True(t, res.Refused)
	require.Equal(t, types.CanonicalRefusal, res.AnswerText)
}

func TestSynthesize_BindsValidCitations(t *testing.T) {
	s := New(fakeLLM{text: "## Summary\nAcme must pay within thirty days [1].\n## Key Points\n- Payment due in 30 days [1]\n- Termination needs 60 days notice [2]\n"})
	res, err := s.Synthesize(context.Background(), "What are the payment terms?", sampleContext(), 1000)
	require.NoError(t, err)
	require.False(t, res.Refused)
	require.Len(t, res.Citations, 2)
	require.Equal(t, "c1", res.Citations[0].ChunkID)
	require.Equal(t, "c2", res.Citations[1].ChunkID)
}

func TestSynthesize_DropsOutOfRangeCitationWithoutFailing(t *testing.T) {
	s := New(fakeLLM{text: "## Summary\nSome claim [9].\n## Key Points\n- item [1]\n"})
	res, err := s.Synthesize(context.Background(), "What are the payment terms?", sampleContext(), 1000)
	require.NoError(t, err)
	require.Len(t, res.Citations, 1, "only the in-range [1] marker should resolve")
}

func TestSynthesize_PropagatesModelRefusal(t *testing.T) {
	s := New(fakeLLM{text: "## Summary\n" + types.CanonicalRefusal + "\n## Key Points\n"})
	res, err := s.Synthesize(context.Background(), "What is the obscure clause X?", sampleContext(), 1000)
	require.NoError(t, err)
	require.True(t, res.Refused)
}

func TestSynthesize_StructuralRefusal_FieldLookupNotInAnyCandidate(t *testing.T) {
	s := New(fakeLLM{text: "## Summary\nThe effective date is January 1, 2024 [1].\n## Key Points\n- Effective date [1]\n"})
	res, err := s.Synthesize(context.Background(), "What is the effective date of the agreement?", sampleContext(), 1000)
	require.NoError(t, err)
	require.True(t, res.Refused, "no candidate mentions 'effective date', so the structural safety net must override the model's answer")
	require.Equal(t, types.CanonicalRefusal, res.AnswerText)
	require.Empty(t, res.Citations)
}

func TestSynthesize_FieldLookupPresentInCandidateIsNotOverridden(t *testing.T) {
	ctxt := types.DistilledContext{Candidates: []types.Candidate{
		{ChunkID: "c1", DocID: "doc1", Text: "The payment terms require net 30 days from invoice date."},
	}}
	s := New(fakeLLM{text: "## Summary\nPayment terms require net 30 days [1].\n## Key Points\n- Net 30 days [1]\n"})
	res, err := s.Synthesize(context.Background(), "What are the payment terms of the agreement?", ctxt, 1000)
	require.NoError(t, err)
	require.False(t, res.Refused)
}

func TestLookupField_ParsesSpecificFieldQuestions(t *testing.T) {
	field, ok := lookupField("What is the effective date of the contract?")
	require.True(t, ok)
	require.Equal(t, "effective date", field)

	_, ok = lookupField("How many documents mention Acme Corp?")
	require.False(t, ok)
}
