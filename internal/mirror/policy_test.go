package mirror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fkerrors "github.com/VatsalSy/fetchkit/internal/errors"
	"github.com/VatsalSy/fetchkit/internal/queue"
)

type recordingSink struct {
	exhausted []string
	failed    []string
}

func (s *recordingSink) ExhaustedMirrors(resourceID string) {
	s.exhausted = append(s.exhausted, resourceID)
}

func (s *recordingSink) FailedToGenerate(resourceID, mirrorID string) {
	s.failed = append(s.failed, resourceID+"/"+mirrorID)
}

func buildItem(r Resource, m Mirror) (*queue.Item, error) {
	return queue.NewItem(r.ID+"#"+m.ID, 0, m.Location), nil
}

func testResource() Resource {
	return Resource{
		ID:   "r1",
		Main: Mirror{ID: "m0", Location: "s3://main/r1", Metadata: map[string]interface{}{"weight": 0}},
		Alternates: []Mirror{
			{ID: "m1", Location: "https://mirror1/r1", Metadata: map[string]interface{}{"weight": 10}},
			{ID: "m2", Location: "https://mirror2/r1", Metadata: map[string]interface{}{"weight": 1}},
		},
	}
}

// S3: mirror failover sequence m1 -> m2 -> m0 -> m0(retry1) -> m0(retry2) -> exhausted.
func TestMirrorPolicyFailoverSequence(t *testing.T) {
	sink := &recordingSink{}
	policy := New(2, buildItem, sink, nil)
	resource := testResource()

	it, err := policy.Select(resource)
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, "r1#m1", it.ID)

	it, err = policy.OnFailure(resource, "m1", fmt.Errorf("boom"))
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, "r1#m2", it.ID)

	it, err = policy.OnFailure(resource, "m2", fmt.Errorf("boom"))
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, "r1#m0", it.ID)

	it, err = policy.OnFailure(resource, "m0", fmt.Errorf("boom"))
	require.NoError(t, err)
	require.NotNil(t, it, "first retry of main mirror")
	assert.Equal(t, "r1#m0", it.ID)

	it, err = policy.OnFailure(resource, "m0", fmt.Errorf("boom"))
	require.NoError(t, err)
	require.NotNil(t, it, "second retry of main mirror")
	assert.Equal(t, "r1#m0", it.ID)

	it, err = policy.OnFailure(resource, "m0", fmt.Errorf("boom"))
	require.NoError(t, err)
	assert.Nil(t, it, "retry budget exhausted")
	assert.Equal(t, []string{"r1"}, sink.exhausted)
}

func TestMirrorPolicyCancelledFailureReturnsNone(t *testing.T) {
	sink := &recordingSink{}
	policy := New(2, buildItem, sink, nil)
	resource := testResource()

	_, err := policy.Select(resource)
	require.NoError(t, err)

	cancelErr := fkerrors.New(fkerrors.ErrorTypeCancelled, "test", "", errors.New("cancelled"))
	it, err := policy.OnFailure(resource, "m1", cancelErr)
	require.NoError(t, err)
	assert.Nil(t, it)
	assert.Empty(t, sink.exhausted)
}

func TestMirrorPolicyOnSuccessClearsRetryCounters(t *testing.T) {
	sink := &recordingSink{}
	policy := New(1, buildItem, sink, nil)
	resource := testResource()

	_, _ = policy.Select(resource)
	_, _ = policy.OnFailure(resource, "m1", fmt.Errorf("boom"))
	_, _ = policy.OnFailure(resource, "m2", fmt.Errorf("boom"))
	_, _ = policy.OnFailure(resource, "m0", fmt.Errorf("boom")) // one retry used

	policy.OnSuccess(resource.ID)

	assert.Empty(t, policy.retryCounts)
	assert.Empty(t, policy.selections)
}

func TestMirrorPolicyMainMirrorAlwaysFallsBackLast(t *testing.T) {
	resource := Resource{
		ID:   "r2",
		Main: Mirror{ID: "main", Metadata: map[string]interface{}{"weight": 1000}},
		Alternates: []Mirror{
			{ID: "alt", Metadata: map[string]interface{}{"weight": 1}},
		},
	}
	mirrors := resource.AllMirrors()
	require.Len(t, mirrors, 2)
	assert.Equal(t, "alt", mirrors[0].ID)
	assert.Equal(t, "main", mirrors[len(mirrors)-1].ID)
}
