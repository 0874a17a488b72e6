package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkcoin/darkcoin/crypto/blssuite"
	"github.com/darkcoin/darkcoin/model/llmq"
)

func TestVerifyBatchMixedGoodAndBad(t *testing.T) {
	sk1, err := blssuite.GenerateOperatorKey(make([]byte, 32))
	require.NoError(t, err)
	sk2, err := blssuite.GenerateOperatorKey(append(make([]byte, 31), 1))
	require.NoError(t, err)

	msg := []byte("payload")
	sig1, err := blssuite.Sign(sk1, "test-tag", msg)
	require.NoError(t, err)
	badSig, err := blssuite.Sign(sk2, "test-tag", msg)
	require.NoError(t, err)

	src1 := llmq.Identifier{1}
	src2 := llmq.Identifier{2}

	items := []Item{
		{Source: src1, Key: sk1.PublicKey(), Message: msg, Sig: sig1},
		{Source: src2, Key: sk1.PublicKey(), Message: msg, Sig: badSig}, // wrong key/sig pairing
	}

	results, err := Verify("test-tag", items)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Ok)
	assert.False(t, results[1].Ok)

	bad := BadSources(results)
	assert.Equal(t, []llmq.Identifier{src2}, bad)
}

func TestScorerDrain(t *testing.T) {
	s := NewScorer()
	src := llmq.Identifier{9}
	s.Report(src, Severe, "wrong anchor")
	s.Report(src, Stale, "rotated out")

	offenses := s.Drain()
	assert.Len(t, offenses, 2)
	assert.Equal(t, Severe, offenses[0].Delta)
	assert.Empty(t, s.Drain(), "drain must clear accumulated offenses")
}
