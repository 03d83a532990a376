package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/langchou/garagebook/internal/models"
)

// 默认工位与营业时间
const (
	DefaultBays         = "bay-1:service,bay-2:service,tyre-1:tyre"
	DefaultOpeningHours = "mon-fri=08:00-18:00,sat=08:00-16:00,sun=closed"
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseResources 解析 "id:class,id:class"
func ParseResources(s string) ([]models.Resource, error) {
	var out []models.Resource
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, class, ok := strings.Cut(part, ":")
		if !ok || id == "" || class == "" {
			return nil, fmt.Errorf("parse bay %q: want id:class", part)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate bay %s", id)
		}
		seen[id] = true
		out = append(out, models.Resource{ID: id, Class: class})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no bays configured")
	}
	return out, nil
}

// ParseOpeningHours 解析 "mon-fri=08:00-18:00,sat=08:00-16:00,sun=closed"
// 未列出的日期视为休息
func ParseOpeningHours(s string) (models.OpeningHours, error) {
	hours := make(models.OpeningHours, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		hours[d] = models.DayHours{Closed: true}
	}

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		days, window, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("parse opening hours %q: missing '='", part)
		}
		weekdays, err := parseDays(days)
		if err != nil {
			return nil, err
		}

		var dh models.DayHours
		if strings.EqualFold(window, "closed") {
			dh.Closed = true
		} else {
			openStr, closeStr, ok := strings.Cut(window, "-")
			if !ok {
				return nil, fmt.Errorf("parse opening hours %q: want HH:MM-HH:MM", part)
			}
			if dh.Open, err = parseClock(openStr); err != nil {
				return nil, err
			}
			if dh.Close, err = parseClock(closeStr); err != nil {
				return nil, err
			}
			if dh.Close <= dh.Open {
				return nil, fmt.Errorf("parse opening hours %q: close before open", part)
			}
		}
		for _, d := range weekdays {
			hours[d] = dh
		}
	}
	return hours, nil
}

func parseDays(s string) ([]time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	from, to, isRange := strings.Cut(s, "-")
	start, ok := weekdayNames[from]
	if !ok {
		return nil, fmt.Errorf("unknown weekday %q", from)
	}
	if !isRange {
		return []time.Weekday{start}, nil
	}
	end, ok := weekdayNames[to]
	if !ok {
		return nil, fmt.Errorf("unknown weekday %q", to)
	}

	var out []time.Weekday
	for d := start; ; d = (d + 1) % 7 {
		out = append(out, d)
		if d == end {
			break
		}
	}
	return out, nil
}

// parseClock "08:30" -> 510
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
