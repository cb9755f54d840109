package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/botsmith/internal/storage"
)

type dashboardStats struct {
	ActiveBots         int    `json:"activeBots"`
	TotalConversations int    `json:"totalConversations"`
	SuccessRate        string `json:"successRate"`
	ResponseTime       string `json:"responseTime"`
}

func handleDashboardStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := collectStats(deps.Store, storage.DefaultUserID)
		if err != nil {
			slog.Error("collecting dashboard stats", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to fetch dashboard stats")
			return
		}
		stats.ResponseTime = fmt.Sprintf("%.1fs", deps.Responder.MeanLatency().Seconds())
		writeJSON(w, http.StatusOK, stats)
	}
}

// collectStats aggregates over the bots owned by ownerID. SuccessRate is the
// share of training records that finished processing.
func collectStats(store storage.Repository, ownerID string) (dashboardStats, error) {
	bots, err := store.ListBotsByOwner(ownerID)
	if err != nil {
		return dashboardStats{}, fmt.Errorf("listing bots: %w", err)
	}

	var stats dashboardStats
	var total, processed int
	for _, b := range bots {
		if b.Status == storage.BotActive {
			stats.ActiveBots++
		}
		convs, err := store.ListConversationsByBot(b.ID)
		if err != nil {
			return dashboardStats{}, fmt.Errorf("listing conversations for %s: %w", b.ID, err)
		}
		stats.TotalConversations += len(convs)

		records, err := store.ListTrainingDataByBot(b.ID)
		if err != nil {
			return dashboardStats{}, fmt.Errorf("listing training data for %s: %w", b.ID, err)
		}
		total += len(records)
		for _, td := range records {
			if td.Processed {
				processed++
			}
		}
	}

	rate := 0.0
	if total > 0 {
		rate = float64(processed) / float64(total) * 100
	}
	stats.SuccessRate = fmt.Sprintf("%.1f%%", rate)
	return stats, nil
}
