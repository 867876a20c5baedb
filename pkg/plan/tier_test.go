package plan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingAppSumo struct{}

func (failingAppSumo) PlanForEmail(context.Context, string) (Tier, bool, error) {
	return Tier{}, false, errors.New("appsumo unavailable")
}

func TestEditionTierSelector(t *testing.T) {
	ctx := context.Background()
	lifetime := Tier{Nickname: "appsumo_tier2", Tasks: 20000, Connections: 50, TeamMembers: 5}
	appsumo := StaticAppSumo{"redeemed@example.com": lifetime}

	cloud := NewEditionTierSelector(EditionCloud, appsumo)

	tier, err := cloud.DefaultTier(ctx, User{Email: "Redeemed@example.com"})
	require.NoError(t, err)
	assert.Equal(t, lifetime, tier, "email lookup ignores case")

	tier, err = cloud.DefaultTier(ctx, User{Email: "someone@example.com"})
	require.NoError(t, err)
	assert.Equal(t, CommunityTier, tier)

	tier, err = NewEditionTierSelector(EditionEnterprise, appsumo).DefaultTier(ctx, User{Email: "redeemed@example.com"})
	require.NoError(t, err)
	assert.Equal(t, PlatformTier, tier, "appsumo only applies on cloud")

	tier, err = NewEditionTierSelector(EditionCommunity, nil).DefaultTier(ctx, User{})
	require.NoError(t, err)
	assert.Equal(t, CommunityTier, tier)

	_, err = NewEditionTierSelector(EditionCloud, failingAppSumo{}).DefaultTier(ctx, User{Email: "x@example.com"})
	assert.Error(t, err)
}

func TestParseEdition(t *testing.T) {
	e, err := ParseEdition(" CLOUD ")
	require.NoError(t, err)
	assert.Equal(t, EditionCloud, e)

	e, err = ParseEdition("")
	require.NoError(t, err)
	assert.Equal(t, EditionCommunity, e)

	_, err = ParseEdition("saas")
	assert.Error(t, err)
}

func TestApplyAndClone(t *testing.T) {
	sub := "sub_1"
	p := Plan{Tasks: 10, StripeSubscriptionID: &sub}
	c := p.Clone()
	*c.StripeSubscriptionID = "changed"
	assert.Equal(t, "sub_1", *p.StripeSubscriptionID, "clone shares no pointers")

	tasks := 20
	p.Apply(Limits{Tasks: &tasks}, nil)
	assert.Equal(t, 20, p.Tasks)
	assert.Equal(t, "sub_1", *p.StripeSubscriptionID)
}
