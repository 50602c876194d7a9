// Package risk turns current weather conditions into a fire-risk
// assessment. Classify is pure: same input, same output, no I/O.
package risk

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/firewatch/internal/weather"
)

// Level is a discrete fire-risk severity. Higher values are more severe.
type Level int

const (
	Low Level = iota
	Moderate
	High
	Extreme
)

var levelNames = [...]string{"Low", "Moderate", "High", "Extreme"}

func (l Level) String() string {
	if l < Low || l > Extreme {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// AtLeast reports whether l is as severe as threshold or more.
func (l Level) AtLeast(threshold Level) bool { return l >= threshold }

// ParseLevel accepts a level name in any case.
func ParseLevel(s string) (Level, error) {
	for i, n := range levelNames {
		if strings.EqualFold(strings.TrimSpace(s), n) {
			return Level(i), nil
		}
	}
	return Low, fmt.Errorf("unknown risk level %q", s)
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// MaxScore is the upper bound of Assessment.Score.
const MaxScore = 10

// Assessment is the classification of one set of conditions.
type Assessment struct {
	Level   Level    `json:"level"`
	Score   int      `json:"score"`
	Factors []string `json:"factors"`
}

// Classify scores conditions on temperature, humidity, wind, and
// precipitation chance, then maps the clamped score to a Level.
func Classify(c weather.Conditions) Assessment {
	var factors []string
	score := 0
	add := func(n int, why string) {
		score += n
		factors = append(factors, why)
	}

	switch {
	case c.Temperature > 100:
		add(4, "Dangerous high temperature")
	case c.Temperature > 90:
		add(3, "Very high temperature")
	case c.Temperature > 80:
		add(2, "High temperature")
	case c.Temperature > 70:
		add(1, "Moderate temperature")
	}

	switch {
	case c.RelativeHumidity < 15:
		add(3, "Critically low humidity")
	case c.RelativeHumidity < 25:
		add(2, "Very low humidity")
	case c.RelativeHumidity < 35:
		add(1, "Low humidity")
	}

	switch {
	case c.WindSpeed > 30:
		add(3, "Extreme wind speeds")
	case c.WindSpeed > 20:
		add(2, "Strong winds")
	case c.WindSpeed > 10:
		add(1, "Moderate winds")
	}

	switch {
	case c.Precipitation >= 80:
		add(-3, "Very high precipitation chance (reducing risk)")
	case c.Precipitation >= 60:
		add(-2, "High precipitation chance (reducing risk)")
	case c.Precipitation >= 40:
		add(-1, "Moderate precipitation chance (reducing risk)")
	case c.Precipitation < 20:
		add(1, "Very low precipitation chance")
	}

	if c.Temperature > 90 && c.RelativeHumidity < 20 && c.WindSpeed > 15 {
		add(2, "Multiple high-risk conditions present")
	}
	if c.Temperature > 85 && c.Precipitation < 10 {
		add(1, "Hot and dry conditions")
	}

	score = max(0, min(MaxScore, score))
	return Assessment{Level: levelFor(score), Score: score, Factors: factors}
}

func levelFor(score int) Level {
	switch {
	case score >= 8:
		return Extreme
	case score >= 6:
		return High
	case score >= 3:
		return Moderate
	default:
		return Low
	}
}
