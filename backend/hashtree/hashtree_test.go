package hashtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carmen-db/carmen/backend/page"
	"github.com/carmen-db/carmen/common"
)

type fakeSource struct {
	pages map[page.Id][]byte
}

func (s *fakeSource) GetPageBytes(id page.Id) ([]byte, error) {
	if b, ok := s.pages[id]; ok {
		return b, nil
	}
	return make([]byte, 8), nil
}

func TestHashTree_RootStableForSameContent(t *testing.T) {
	src := &fakeSource{pages: map[page.Id][]byte{
		0: []byte("aaaaaaaa"),
		1: []byte("bbbbbbbb"),
		2: []byte("cccccccc"),
	}}
	tree := New(common.HashTreeOptions{BranchingFactor: 2}, src)
	tree.RegisterPage(2)
	root1, err := tree.GetHash()
	require.NoError(t, err)

	tree2 := New(common.HashTreeOptions{BranchingFactor: 2}, src)
	tree2.RegisterPage(2)
	root2, err := tree2.GetHash()
	require.NoError(t, err)

	assert.Equal(t, root1, root2)
}

func TestHashTree_MarkDirtyChangesRoot(t *testing.T) {
	src := &fakeSource{pages: map[page.Id][]byte{
		0: []byte("aaaaaaaa"),
	}}
	tree := New(common.HashTreeOptions{BranchingFactor: 4}, src)
	tree.RegisterPage(0)
	root1, err := tree.GetHash()
	require.NoError(t, err)

	src.pages[0] = []byte("zzzzzzzz")
	tree.MarkDirty(0)
	root2, err := tree.GetHash()
	require.NoError(t, err)

	assert.NotEqual(t, root1, root2)
}

func TestHashTree_SerializeLoadRoundTrip(t *testing.T) {
	src := &fakeSource{pages: map[page.Id][]byte{
		0: []byte("aaaaaaaa"),
		1: []byte("bbbbbbbb"),
		2: []byte("cccccccc"),
		3: []byte("dddddddd"),
		4: []byte("eeeeeeee"),
	}}
	tree := New(common.HashTreeOptions{BranchingFactor: 2}, src)
	tree.RegisterPage(4)
	root, err := tree.GetHash()
	require.NoError(t, err)

	buf, err := tree.Serialize()
	require.NoError(t, err)

	loaded, err := Load(buf, src)
	require.NoError(t, err)
	loadedRoot, err := loaded.GetHash()
	require.NoError(t, err)
	assert.Equal(t, root, loadedRoot)
}

func TestHashTree_LoadDetectsCorruption(t *testing.T) {
	src := &fakeSource{pages: map[page.Id][]byte{0: []byte("aaaaaaaa")}}
	tree := New(common.HashTreeOptions{BranchingFactor: 2}, src)
	tree.RegisterPage(0)
	buf, err := tree.Serialize()
	require.NoError(t, err)

	// Corrupt the stored root hash.
	buf[8] ^= 0xFF

	_, err = Load(buf, src)
	require.Error(t, err)
	var corruption *common.CorruptionError
	assert.ErrorAs(t, err, &corruption)
}

func TestHashTree_UpdateHashBytes(t *testing.T) {
	src := &fakeSource{}
	tree := New(common.HashTreeOptions{BranchingFactor: 2}, src)
	tree.UpdateHashBytes(page.Id(0), []byte("payload"))
	h, err := tree.GetHash()
	require.NoError(t, err)
	assert.Equal(t, common.DefaultHasher.Sum([]byte("payload")), h)
}
