package gamification

import "github.com/brightpath/backend/internal/models"

// QualifyingBadges returns every badge the profile currently meets.
// The caller decides which ones are new.
func (r Rules) QualifyingBadges(p models.Profile) []BadgeDef {
	var earned []BadgeDef
	for _, b := range r.Badges {
		var value int64
		switch b.Kind {
		case BadgeKindStreak:
			value = int64(p.CurrentStreak)
		case BadgeKindLevel:
			value = int64(r.LevelFromXP(p.TotalXP))
		case BadgeKindXP:
			value = p.TotalXP
		}
		if value >= b.Threshold {
			earned = append(earned, b)
		}
	}
	return earned
}

func (r Rules) badgeName(key string) string {
	for _, b := range r.Badges {
		if b.Key == key {
			return b.Name
		}
	}
	return ""
}
