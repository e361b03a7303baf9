package zilliz

import (
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexParamsUseCosineIVFFlat(t *testing.T) {
	idx, err := indexParams()
	require.NoError(t, err)

	assert.Equal(t, entity.IndexType("IVF_FLAT"), idx.IndexType())
	params := idx.Params()
	assert.Equal(t, string(entity.COSINE), params["metric_type"])
	assert.JSONEq(t, `{"nlist":"1024"}`, params["params"])

	sp, err := searchParams()
	require.NoError(t, err)
	assert.Equal(t, ivfNProbe, sp.Params()["nprobe"])
}

func TestDocumentExprMatchesSourceAndID(t *testing.T) {
	assert.Equal(t,
		`source == "local_dir" && document_id == "guides/boot.pdf"`,
		documentExpr("local_dir", "guides/boot.pdf"))
	assert.Equal(t,
		`source == "local_upload" && document_id == "say \"hi\".txt"`,
		documentExpr("local_upload", `say "hi".txt`))
}

func TestTruncateCountsRunes(t *testing.T) {
	assert.Equal(t, "héll", truncate("héllo", 4))
	assert.Equal(t, "abc", truncate("abc", 10))
}
