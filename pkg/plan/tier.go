package plan

import (
	"context"
	"fmt"
	"strings"
)

// Tier is a preset of plan limits.
type Tier struct {
	Nickname               string `json:"nickname" yaml:"nickname"`
	Tasks                  int    `json:"tasks" yaml:"tasks"`
	TasksPerDay            *int   `json:"tasksPerDay,omitempty" yaml:"tasksPerDay,omitempty"`
	Connections            int    `json:"connections" yaml:"connections"`
	MinimumPollingInterval int    `json:"minimumPollingInterval" yaml:"minimumPollingInterval"`
	TeamMembers            int    `json:"teamMembers" yaml:"teamMembers"`
}

var (
	// CommunityTier is given to new projects outside cloud and enterprise.
	CommunityTier = Tier{
		Nickname:               "free",
		Tasks:                  1000,
		Connections:            10,
		MinimumPollingInterval: 5,
		TeamMembers:            1,
	}

	// PlatformTier is the enterprise default.
	PlatformTier = Tier{
		Nickname:               "platform",
		Tasks:                  50000,
		Connections:            200,
		MinimumPollingInterval: 1,
		TeamMembers:            100,
	}
)

type Edition string

const (
	EditionCommunity  Edition = "ce"
	EditionEnterprise Edition = "ee"
	EditionCloud      Edition = "cloud"
)

func ParseEdition(s string) (Edition, error) {
	switch e := Edition(strings.ToLower(strings.TrimSpace(s))); e {
	case EditionCommunity, EditionEnterprise, EditionCloud:
		return e, nil
	case "":
		return EditionCommunity, nil
	default:
		return "", fmt.Errorf("unknown edition %q", s)
	}
}

// TierSelector picks the tier a new plan starts on.
type TierSelector interface {
	DefaultTier(ctx context.Context, owner User) (Tier, error)
}

// AppSumoLookup finds a redeemed AppSumo plan by owner email.
type AppSumoLookup interface {
	PlanForEmail(ctx context.Context, email string) (Tier, bool, error)
}

// EditionTierSelector gives cloud owners their AppSumo plan when they have
// one, enterprise projects the platform tier, and everyone else Fallback.
type EditionTierSelector struct {
	Edition  Edition
	AppSumo  AppSumoLookup
	Platform Tier
	Fallback Tier
}

func NewEditionTierSelector(edition Edition, appsumo AppSumoLookup) *EditionTierSelector {
	return &EditionTierSelector{
		Edition:  edition,
		AppSumo:  appsumo,
		Platform: PlatformTier,
		Fallback: CommunityTier,
	}
}

func (s *EditionTierSelector) DefaultTier(ctx context.Context, owner User) (Tier, error) {
	switch s.Edition {
	case EditionCloud:
		if s.AppSumo == nil {
			break
		}
		tier, ok, err := s.AppSumo.PlanForEmail(ctx, owner.Email)
		if err != nil {
			return Tier{}, fmt.Errorf("appsumo lookup for %s: %w", owner.Email, err)
		}
		if ok {
			return tier, nil
		}
	case EditionEnterprise:
		return s.Platform, nil
	}
	return s.Fallback, nil
}

// StaticAppSumo maps lowercased emails to tiers.
type StaticAppSumo map[string]Tier

func (m StaticAppSumo) PlanForEmail(_ context.Context, email string) (Tier, bool, error) {
	tier, ok := m[strings.ToLower(email)]
	return tier, ok, nil
}
