package handler

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v3"

	"task-reward-engine/internal/service"
)

// RankingHandler handles ranking-related commands.
type RankingHandler struct {
	rankingService *service.RankingService
}

// NewRankingHandler creates a new RankingHandler.
func NewRankingHandler(rankingService *service.RankingService) *RankingHandler {
	return &RankingHandler{
		rankingService: rankingService,
	}
}

// HandleDailyTop handles the /top command.
// Displays today's top commission earners.
func (h *RankingHandler) HandleDailyTop(c tele.Context) error {
	ctx := context.Background()

	earners, err := h.rankingService.TopEarnersToday(ctx, 10)
	if err != nil {
		return c.Reply("❌ Could not load the ranking, please try again later")
	}

	msg := "🏆 Today's top earners\n"
	msg += "━━━━━━━━━━━━━━━\n"

	if len(earners) == 0 {
		msg += "No data yet\n"
	} else {
		medals := []string{"🥇", "🥈", "🥉"}
		for i, e := range earners {
			rank := fmt.Sprintf("%d.", i+1)
			if i < 3 {
				rank = medals[i]
			}

			name := e.Username
			if name == "" {
				name = fmt.Sprintf("User%d", e.UserID)
			}

			msg += fmt.Sprintf("%s %s: +%s\n", rank, name, money(e.Total))
		}
	}

	msg += "━━━━━━━━━━━━━━━"

	return c.Reply(msg)
}
