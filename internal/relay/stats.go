package relay

// Stats represents current bridge stats for dashboards & API.
type Stats struct {
	Sessions     int    `json:"sessions"`
	Tunnels      int    `json:"tunnels"`
	TotalTunnels int64  `json:"total_tunnels"`
	DialFailures int64  `json:"dial_failures"`
	Now          string `json:"now"`
}

// ToTemplateMap returns a map suited for html/template rendering with expected capitalized keys.
func (s Stats) ToTemplateMap() map[string]any {
	return map[string]any{
		"Sessions":     s.Sessions,
		"Tunnels":      s.Tunnels,
		"Total":        s.TotalTunnels,
		"DialFailures": s.DialFailures,
	}
}
