// Package metrics aggregates stored security events into operational
// rollups. Aggregation is read-only and side-effect free; it may scan
// large windows and is safe to run on a background schedule.
package metrics

import (
	"sort"
	"time"

	"threatwatch/internal/schema"
)

const (
	// topThreatCount is how many event types the top-threats ranking keeps.
	topThreatCount = 5

	// topSuspiciousCount is how many actors the suspicious-user ranking keeps.
	topSuspiciousCount = 10

	// minEventsForRanking is the event floor for the suspicious-user
	// ranking. A single event is insufficient signal for a pattern.
	minEventsForRanking = 2
)

// Compute derives SecurityMetrics from the events of an N-day window.
// The events are expected to already be filtered to timestamp >= now-N days.
func Compute(events []*schema.SecurityEvent, days int, now time.Time) *schema.SecurityMetrics {
	m := &schema.SecurityMetrics{
		WindowDays:          days,
		TotalEvents:         len(events),
		EventsByType:        make(map[schema.EventType]int),
		EventsByThreatLevel: make(map[schema.ThreatLevel]int),
		GeneratedAt:         now,
	}

	var resolutionTotal time.Duration
	var resolvedWithTime int

	for _, event := range events {
		m.EventsByType[event.Type]++
		m.EventsByThreatLevel[event.ThreatLevel]++

		switch event.Status {
		case schema.StatusOpen, schema.StatusInvestigating:
			m.OpenAlerts++
		case schema.StatusResolved:
			m.ResolvedAlerts++
		}

		if event.ResolvedAt != nil {
			resolutionTotal += event.ResolvedAt.Sub(event.Timestamp)
			resolvedWithTime++
		}
	}

	if resolvedWithTime > 0 {
		m.MeanResolutionHours = resolutionTotal.Hours() / float64(resolvedWithTime)
	}

	m.TopThreats = topThreats(events, m.EventsByType)
	m.RiskTrend = riskTrend(events, days, now)
	m.TopSuspiciousUsers = topSuspiciousUsers(events)

	return m
}

// topThreats ranks event types by frequency with mean risk score.
func topThreats(events []*schema.SecurityEvent, byType map[schema.EventType]int) []schema.ThreatSummary {
	scoreTotals := make(map[schema.EventType]int)
	for _, event := range events {
		scoreTotals[event.Type] += event.RiskScore
	}

	summaries := make([]schema.ThreatSummary, 0, len(byType))
	for eventType, count := range byType {
		summaries = append(summaries, schema.ThreatSummary{
			Type:          eventType,
			Count:         count,
			MeanRiskScore: float64(scoreTotals[eventType]) / float64(count),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Count != summaries[j].Count {
			return summaries[i].Count > summaries[j].Count
		}
		return summaries[i].Type < summaries[j].Type
	})

	if len(summaries) > topThreatCount {
		summaries = summaries[:topThreatCount]
	}
	return summaries
}

// riskTrend produces one point per calendar day over the window, valued
// at the mean risk score of events created that day, 0 when none.
func riskTrend(events []*schema.SecurityEvent, days int, now time.Time) []schema.TrendPoint {
	type bucket struct {
		count int
		total int
	}
	buckets := make(map[time.Time]*bucket)
	for _, event := range events {
		day := event.Timestamp.UTC().Truncate(24 * time.Hour)
		b := buckets[day]
		if b == nil {
			b = &bucket{}
			buckets[day] = b
		}
		b.count++
		b.total += event.RiskScore
	}

	trend := make([]schema.TrendPoint, 0, days)
	start := now.UTC().Truncate(24 * time.Hour).AddDate(0, 0, -(days - 1))
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		point := schema.TrendPoint{Date: day}
		if b := buckets[day]; b != nil {
			point.EventCount = b.count
			point.MeanRiskScore = float64(b.total) / float64(b.count)
		}
		trend = append(trend, point)
	}
	return trend
}

// topSuspiciousUsers ranks actors by mean risk score. Actors with fewer
// than two events in the window are excluded.
func topSuspiciousUsers(events []*schema.SecurityEvent) []*schema.SuspiciousActivity {
	byActor := make(map[string][]*schema.SecurityEvent)
	for _, event := range events {
		if event.Actor == "" {
			continue
		}
		byActor[event.Actor] = append(byActor[event.Actor], event)
	}

	var ranked []*schema.SuspiciousActivity
	for actor, actorEvents := range byActor {
		if len(actorEvents) < minEventsForRanking {
			continue
		}
		ranked = append(ranked, rollupActor(actor, actorEvents))
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].MeanRiskScore != ranked[j].MeanRiskScore {
			return ranked[i].MeanRiskScore > ranked[j].MeanRiskScore
		}
		return ranked[i].Actor < ranked[j].Actor
	})

	if len(ranked) > topSuspiciousCount {
		ranked = ranked[:topSuspiciousCount]
	}
	return ranked
}

// RollupActor computes the SuspiciousActivity rollup for one actor's
// events. Exported for the engine's on-demand per-actor view.
func RollupActor(actor string, events []*schema.SecurityEvent) *schema.SuspiciousActivity {
	return rollupActor(actor, events)
}

func rollupActor(actor string, events []*schema.SecurityEvent) *schema.SuspiciousActivity {
	rollup := &schema.SuspiciousActivity{
		Actor:       actor,
		Occurrences: len(events),
	}

	ips := make(map[string]bool)
	agents := make(map[string]bool)
	resources := make(map[string]bool)
	var scoreTotal int

	for _, event := range events {
		if rollup.FirstSeen.IsZero() || event.Timestamp.Before(rollup.FirstSeen) {
			rollup.FirstSeen = event.Timestamp
		}
		if event.Timestamp.After(rollup.LastSeen) {
			rollup.LastSeen = event.Timestamp
		}
		if event.IPAddress != "" {
			ips[event.IPAddress] = true
		}
		if event.UserAgent != "" {
			agents[event.UserAgent] = true
		}
		for _, r := range event.AffectedResources {
			resources[r] = true
		}
		scoreTotal += event.RiskScore
	}

	rollup.IPAddresses = sortedKeys(ips)
	rollup.UserAgents = sortedKeys(agents)
	rollup.AffectedResources = sortedKeys(resources)
	if len(events) > 0 {
		rollup.MeanRiskScore = float64(scoreTotal) / float64(len(events))
	}
	return rollup
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
