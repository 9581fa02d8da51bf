package presence

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Palette is the ordered list of colours handed out to participants before
// falling back to hashed hues.
var Palette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4",
	"#46f0f0", "#f032e6", "#bcf60c", "#fabebe", "#008080",
	"#e6beff", "#9a6324", "#800000", "#aaffc3", "#808000",
	"#000075", "#ffd8b1", "#ff6f61", "#6b5b95", "#88b04b",
}

// Colors assigns each participant id a colour for the lifetime of a session.
// The zero value is not usable; call NewColors.
type Colors struct {
	palette  []string
	assigned map[string]string
	used     map[string]struct{}
}

// NewColors returns an assigner over the given palette.
func NewColors(palette []string) *Colors {
	return &Colors{
		palette:  append([]string(nil), palette...),
		assigned: make(map[string]string),
		used:     make(map[string]struct{}),
	}
}

// For returns the colour of id, assigning the first unused palette entry the
// first time id is seen. Once the palette is exhausted the colour is a hue
// derived from a hash of id, which may collide.
func (c *Colors) For(id string) string {
	if color, ok := c.assigned[id]; ok {
		return color
	}
	color := ""
	for _, candidate := range c.palette {
		if _, taken := c.used[candidate]; !taken {
			color = candidate
			break
		}
	}
	if color == "" {
		color = HashedHue(id)
	} else {
		c.used[color] = struct{}{}
	}
	c.assigned[id] = color
	return color
}

// HashedHue maps id to an HSL colour string.
func HashedHue(id string) string {
	hue := xxhash.Sum64String(id) % 360
	return fmt.Sprintf("hsl(%d, 70%%, 50%%)", hue)
}
