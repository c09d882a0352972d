package leaderboard

import (
	"sort"
	"time"

	"github.com/maplive/engine/internal/domain"
)

// Rank derives the full standings from the participant set. It is a pure
// function: identical inputs always produce identical, contiguous 1-based
// ranks. Ordering is total score descending, then average response time
// ascending, then join time ascending; the participant id breaks any residual
// tie so the result is deterministic.
func Rank(sessionID string, participants []domain.Participant, now time.Time) domain.Leaderboard {
	sorted := make([]domain.Participant, len(participants))
	copy(sorted, participants)

	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.AvgResponseTime != b.AvgResponseTime {
			return a.AvgResponseTime < b.AvgResponseTime
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ID < b.ID
	})

	entries := make([]domain.LeaderboardEntry, 0, len(sorted))
	for i, p := range sorted {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:            i + 1,
			ParticipantID:   p.ID,
			DisplayName:     p.DisplayName,
			TotalScore:      p.TotalScore,
			CorrectCount:    p.CorrectCount,
			AnsweredCount:   p.AnsweredCount,
			AvgResponseTime: p.AvgResponseTime,
		})
	}

	return domain.Leaderboard{
		SessionID: sessionID,
		Entries:   entries,
		UpdatedAt: now,
	}
}

// Ranks returns the participant id to rank mapping for the same ordering.
func Ranks(participants []domain.Participant) map[string]int {
	lb := Rank("", participants, time.Time{})
	ranks := make(map[string]int, len(lb.Entries))
	for _, e := range lb.Entries {
		ranks[e.ParticipantID] = e.Rank
	}
	return ranks
}
