package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IngaCherny/AgentsLeak/internal/apierr"
	"github.com/IngaCherny/AgentsLeak/internal/models"
)

type fakePolicyStore struct {
	byName map[string]*models.Policy
	saved  []*models.Policy
}

func newFakePolicyStore() *fakePolicyStore {
	return &fakePolicyStore{byName: map[string]*models.Policy{}}
}

func (f *fakePolicyStore) GetPolicyByName(ctx context.Context, name string) (*models.Policy, error) {
	if p, ok := f.byName[name]; ok {
		return p, nil
	}
	return nil, apierr.NotFoundf("policy %q not found", name)
}

func (f *fakePolicyStore) SavePolicy(ctx context.Context, p *models.Policy) error {
	f.byName[p.Name] = p
	f.saved = append(f.saved, p)
	return nil
}

func TestSeedDefaultPolicies_CreatesAllOnEmptyStore(t *testing.T) {
	store := newFakePolicyStore()
	created, err := SeedDefaultPolicies(context.Background(), store)
	require.NoError(t, err)

	assert.Equal(t, len(builtinPolicies()), created)
	assert.Len(t, store.saved, len(builtinPolicies()))
}

func TestSeedDefaultPolicies_SkipsExisting(t *testing.T) {
	store := newFakePolicyStore()
	store.byName["SESSION-001"] = &models.Policy{Name: "SESSION-001"}

	created, err := SeedDefaultPolicies(context.Background(), store)
	require.NoError(t, err)

	assert.Equal(t, len(builtinPolicies())-1, created)
}

func TestSeedDefaultPolicies_PropagatesNonNotFoundError(t *testing.T) {
	store := &erroringPolicyStore{}
	_, err := SeedDefaultPolicies(context.Background(), store)
	assert.Error(t, err)
}

type erroringPolicyStore struct{}

func (e *erroringPolicyStore) GetPolicyByName(ctx context.Context, name string) (*models.Policy, error) {
	return nil, apierr.Internalf(assert.AnError, "db unavailable")
}

func (e *erroringPolicyStore) SavePolicy(ctx context.Context, p *models.Policy) error {
	return nil
}

func TestDefaultSequenceRules_AllEnabledAndOrdered(t *testing.T) {
	rules := DefaultSequenceRules()
	require.NotEmpty(t, rules)
	seen := map[string]bool{}
	for _, r := range rules {
		assert.True(t, r.Enabled, "rule %s should be enabled by default", r.ID)
		assert.True(t, r.Ordered, "rule %s should be ordered", r.ID)
		assert.NotEmpty(t, r.Steps, "rule %s should have steps", r.ID)
		assert.False(t, seen[r.ID], "duplicate rule id %s", r.ID)
		seen[r.ID] = true
	}
}
