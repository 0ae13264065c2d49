package detect

import (
	"context"
	"errors"
	"fmt"

	"threatwatch/internal/schema"
	"threatwatch/internal/scoring"
)

// DetectAnomalousBehavior compares an actor's trailing-day activity with
// their baseline (the history window minus the trailing day). Three
// indicators contribute: activity volume far above the baseline daily
// average, action types never seen in the baseline, and activity in
// hours with no baseline precedent. An actor with no baseline produces
// no event; there is nothing to deviate from.
func (d *Detector) DetectAnomalousBehavior(ctx context.Context, actor string) (*schema.SecurityEvent, error) {
	if actor == "" {
		return nil, schema.NewValidationError("actor", errors.New("actor is required"))
	}

	cfg := d.config.Anomaly
	now := d.now()
	recentStart := now.Add(-cfg.RecentWindow)

	recent, err := d.activity.Query(ctx, schema.ActivityFilter{
		Actor: actor,
		From:  recentStart,
		To:    now,
	})
	if err != nil {
		return nil, err
	}

	baseline, err := d.activity.Query(ctx, schema.ActivityFilter{
		Actor: actor,
		From:  now.Add(-cfg.BaselineWindow),
		To:    recentStart,
	})
	if err != nil {
		return nil, err
	}

	if len(baseline) == 0 || len(recent) == 0 {
		return nil, nil
	}

	var indicators []scoring.Indicator

	baselineDays := (cfg.BaselineWindow - cfg.RecentWindow).Hours() / 24
	dailyAverage := float64(len(baseline)) / baselineDays
	if dailyAverage > 0 && float64(len(recent))/dailyAverage > cfg.VolumeRatio {
		indicators = append(indicators, scoring.Indicator{
			Reason: "Activity volume far above baseline",
			Weight: cfg.VolumeWeight,
		})
	}

	if novel := novelActionCount(recent, baseline); novel > cfg.NovelActionCount {
		indicators = append(indicators, scoring.Indicator{
			Reason: "Multiple new action types",
			Weight: cfg.NovelActionWeight,
		})
	}

	if offHoursShare(recent, baseline, cfg.OffHoursSlack) > cfg.OffHoursFraction {
		indicators = append(indicators, scoring.Indicator{
			Reason: "Activity at unusual hours",
			Weight: cfg.OffHoursWeight,
		})
	}

	score, reasons := d.scorer.Score(indicators)
	if score < cfg.MinScore {
		return nil, nil
	}

	return &schema.SecurityEvent{
		Type:        schema.EventAnomalousBehavior,
		ThreatLevel: d.scorer.Classify(score),
		Title:       "Anomalous behavior detected",
		Description: fmt.Sprintf("Activity by %s over the last %s deviates from their %s baseline",
			actor, cfg.RecentWindow, cfg.BaselineWindow),
		Actor:      actor,
		Timestamp:  now,
		RiskScore:  score,
		Indicators: reasons,
		MitigationActions: []string{
			"Monitor user activity",
			"Review recent account actions",
			"Require additional authentication",
		},
		Status: schema.StatusOpen,
	}, nil
}

// novelActionCount counts action types present in recent activity but
// absent from the baseline.
func novelActionCount(recent, baseline []*schema.ActivityRecord) int {
	known := make(map[string]bool, len(baseline))
	for _, rec := range baseline {
		known[rec.Action] = true
	}

	novel := make(map[string]bool)
	for _, rec := range recent {
		if !known[rec.Action] {
			novel[rec.Action] = true
		}
	}
	return len(novel)
}

// offHoursShare returns the fraction of recent activity falling in hours
// with no baseline precedent within the slack.
func offHoursShare(recent, baseline []*schema.ActivityRecord, slack int) float64 {
	if len(recent) == 0 {
		return 0
	}

	baselineHours := make(map[int]bool)
	for _, rec := range baseline {
		baselineHours[rec.Timestamp.Hour()] = true
	}

	offHours := 0
	for _, rec := range recent {
		matched := false
		for hour := range baselineHours {
			if hourNear(rec.Timestamp.Hour(), hour, slack) {
				matched = true
				break
			}
		}
		if !matched {
			offHours++
		}
	}
	return float64(offHours) / float64(len(recent))
}
