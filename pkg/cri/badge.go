package cri

import "fmt"

const badgeTemplate = `<svg xmlns="http://www.w3.org/2000/svg" width="180" height="20" role="img" aria-label="BotNode CRI: %[1]s">
<rect width="95" height="20" fill="#555"/>
<rect x="95" width="85" height="20" fill="%[2]s"/>
<text x="48" y="14" fill="#fff" font-family="Verdana,Geneva,sans-serif" font-size="11" text-anchor="middle">BotNode CRI</text>
<text x="137" y="14" fill="#fff" font-family="Verdana,Geneva,sans-serif" font-size="11" text-anchor="middle">%[1]s</text>
</svg>`

// BadgeColor maps a score onto the badge's right-hand segment colour.
func BadgeColor(score float64) string {
	switch {
	case score >= 4:
		return "#2da44e"
	case score >= 3:
		return "#1f6feb"
	case score >= 2:
		return "#d29922"
	default:
		return "#cf222e"
	}
}

// BadgeSVG renders the two-segment score badge.
func BadgeSVG(score float64) string {
	return fmt.Sprintf(badgeTemplate, fmt.Sprintf("%.2f", score), BadgeColor(score))
}
