package angel

import (
	"slices"
	"strconv"
	"strings"
)

const (
	eventTipsPending = "please wait🙏- working on it....."

	defaultCategoryEmoji   = "📅"
	defaultDifficultyColor = 0x3498db
)

var eventCategoryEmoji = map[string]string{
	"PvE Event":         "🐲",
	"PvP Event":         "⚔️",
	"Development Event": "🏗️",
	"Alliance Event":    "🤝",
	"Competitive PvP":   "🏆",
	"Territory Control": "⛰️",
	"Leisure Event":     "🎣",
	"Resource Event":    "⛏️",
}

var eventDifficultyColor = map[string]int{
	"Easy":      0x00ff00,
	"Medium":    0xffff00,
	"Hard":      0xff9900,
	"Very Hard": 0xff0000,
}

// Event is a Whiteout Survival event, shown by /event
type Event struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	Guide      string `json:"guide"`
	Video      string `json:"video"`
	Tips       string `json:"tips"`
	Image      string `json:"image"`
	Difficulty string `json:"difficulty"`
	Duration   string `json:"duration"`
	Rewards    string `json:"rewards"`
	Category   string `json:"category"`
}

// CategoryEmoji returns the emoji for the event's category
func (e Event) CategoryEmoji() string {
	if emoji, ok := eventCategoryEmoji[e.Category]; ok {
		return emoji
	}
	return defaultCategoryEmoji
}

// Color is the embed color for the event's difficulty
func (e Event) Color() int {
	if c, ok := eventDifficultyColor[e.Difficulty]; ok {
		return c
	}
	return defaultDifficultyColor
}

// DurationDays parses the leading number of Duration ("7 days" -> 7)
func (e Event) DurationDays() (int, bool) {
	fields := strings.Fields(e.Duration)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	return n, err == nil
}

// events is kept in display order
var events = []Event{
	{
		Key:        "bear",
		Name:       "Bear Hunt",
		Guide:      "https://www.whiteoutsurvival.wiki/events/bear-hunt/",
		Video:      "https://youtu.be/d4EMZhb-S30?si=pNrSsVLgRZbsrVU2",
		Tips:       eventTipsPending,
		Image:      "https://i.postimg.cc/Fzq03CJf/a463d7c7-7fc7-47fc-b24d-1324383ee2ff-removebg-preview.png",
		Difficulty: "Medium",
		Duration:   "3 days",
		Rewards:    "Hero EXP, Equipment Materials, Bear Hunt Tokens, Gold",
		Category:   "PvE Event",
	},
	{
		Key:        "foundry",
		Name:       "Foundry Battle",
		Guide:      "https://www.whiteoutsurvival.wiki/events/foundry-battle/",
		Video:      "https://youtu.be/8A1tMTkbdNU?si=i2EPvoVG2ikyXbsO",
		Tips:       eventTipsPending,
		Image:      "https://i.postimg.cc/QCpGRRKP/foundry-event.png",
		Difficulty: "Hard",
		Duration:   "7 days",
		Rewards:    "Alliance Coins, Equipment Blueprints, Hero Fragments, Building Materials",
		Category:   "Alliance Event",
	},
	{
		Key:        "crazyjoe",
		Name:       "Crazy Joe",
		Guide:      "https://www.whiteoutsurvival.wiki/events/crazy-joe/",
		Video:      "https://youtu.be/KHf7f5wHtu0?si=iRt0MtI9GeJIb6Qc",
		Tips:       eventTipsPending,
		Image:      "https://i.postimg.cc/Jz0Tz3Ht/crazy-joe-event.png",
		Difficulty: "Easy",
		Duration:   "5 days",
		Rewards:    "Joe Tokens, Hero Fragments, Exclusive Equipment, Speed-ups",
		Category:   "Development Event",
	},
	{
		Key:        "alliancemobilization",
		Name:       "Alliance Mobilization",
		Guide:      "https://www.whiteoutsurvival.wiki/events/alliance-mobilization/",
		Video:      "https://youtu.be/Ni8XMLyVhxQ?si=fBEWoKDTf3EBswNu",
		Tips:       eventTipsPending,
		Image:      "https://i.postimg.cc/Pf9Hs0Ld/alliance-mobilization.png",
		Difficulty: "Medium",
		Duration:   "5 days",
		Rewards:    "Alliance Tech Points, Member Rewards, Exclusive Blueprints, Alliance Coins",
		Category:   "Alliance Event",
	},
	{
		Key:        "alliancechampionship",
		Name:       "Alliance Championship",
		Guide:      "https://www.whiteoutsurvival.wiki/events/alliance-championship/",
		Video:      "https://youtu.be/KVZndZ1n1L4?si=0B-V1aQluvK3cSxa",
		Tips:       eventTipsPending,
		Image:      "https://i.postimg.cc/QMnDnzGH/alliance-championship.png",
		Difficulty: "Very Hard",
		Duration:   "14 days",
		Rewards:    "Championship Trophies, Exclusive Titles, Premium Equipment, Alliance Fame",
		Category:   "Competitive PvP",
	},
	{
		Key:        "canyonclash",
		Name:       "Canyon Clash",
		Guide:      "https://www.whiteoutsurvival.wiki/events/canyon-clash/",
		Video:      "https://youtu.be/jPJFye8ftJQ?si=yWnHIWMm8POy1LWT",
		Tips:       eventTipsPending,
		Image:      "https://i.postimg.cc/Vk9Hn7Lj/canyon-clash.png",
		Difficulty: "Hard",
		Duration:   "10 days",
		Rewards:    "Territory Tokens, Strategic Resources, Military Equipment, Canyon Medals",
		Category:   "Territory Control",
	},
	{
		Key:        "fishingtournament",
		Name:       "Fishing Tournament",
		Guide:      "https://www.whiteoutsurvival.wiki/events/fishing-tournament/",
		Video:      "https://youtu.be/LYqKLI1FS7M?si=8suV3mDK5bzCVcku",
		Tips:       eventTipsPending,
		Image:      "https://i.postimg.cc/QdQJXLnK/fishing-tournament.png",
		Difficulty: "Easy",
		Duration:   "7 days",
		Rewards:    "Fishing Tokens, Decorative Items, Relaxation Points, Special Fish",
		Category:   "Leisure Event",
	},
	{
		Key:        "frostfiremine",
		Name:       "Frostfire Mine",
		Guide:      "https://www.whiteoutsurvival.wiki/events/frostfire-mine/",
		Video:      "https://youtu.be/uZq97I-tc5Q?si=JGdoD1c8qjxKfM0e",
		Tips:       eventTipsPending,
		Image:      "https://i.postimg.cc/Fzq03CJf/a463d7c7-7fc7-47fc-b24d-1324383ee2ff-removebg-preview.png",
		Difficulty: "Medium",
		Duration:   "8 days",
		Rewards:    "Rare Minerals, Mining Equipment, Trade Tokens, Industrial Materials",
		Category:   "Resource Event",
	},
}

// Events returns every event, in display order
func Events() []Event {
	return slices.Clone(events)
}

// LookupEvent finds an event by key, case-insensitively
func LookupEvent(key string) (Event, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	idx := slices.IndexFunc(events, func(e Event) bool { return e.Key == key })
	if idx < 0 {
		return Event{}, false
	}
	return events[idx], true
}

// SearchEvents returns events whose key, name, category or tips contain
// query (case-insensitive). An empty query matches everything.
func SearchEvents(query string) []Event {
	query = strings.ToLower(strings.TrimSpace(query))
	var matches []Event
	for _, e := range events {
		if query == "" ||
			strings.Contains(e.Key, query) ||
			strings.Contains(strings.ToLower(e.Name), query) ||
			strings.Contains(strings.ToLower(e.Category), query) ||
			strings.Contains(strings.ToLower(e.Tips), query) {
			matches = append(matches, e)
		}
	}
	return matches
}

func EventsByCategory(category string) []Event {
	var matches []Event
	for _, e := range events {
		if e.Category == category {
			matches = append(matches, e)
		}
	}
	return matches
}

func EventsByDifficulty(difficulty string) []Event {
	var matches []Event
	for _, e := range events {
		if e.Difficulty == difficulty {
			matches = append(matches, e)
		}
	}
	return matches
}
