// Package composer turns a campaign template into the per-recipient HTML
// body, injecting the click-tracking link and the open-tracking pixel.
package composer

import (
	"strconv"
	"strings"
)

const (
	VerifyButtonToken = "[VERIFY_BUTTON]"
	TrackingLinkToken = "{{ tracking_link }}"

	ClickPath = "/track/click/"
	OpenPath  = "/track/open/"
)

const buttonStyle = "display: inline-block; padding: 12px 24px; background-color: #6366f1; " +
	"color: white; text-decoration: none; border-radius: 6px; font-weight: bold; font-family: sans-serif;"

// ClickURL is the address a recipient's click is recorded under.
func ClickURL(baseURL string, recipientID int64) string {
	return strings.TrimRight(baseURL, "/") + ClickPath + strconv.FormatInt(recipientID, 10)
}

// OpenURL is the address of the recipient's tracking pixel.
func OpenURL(baseURL string, recipientID int64) string {
	return strings.TrimRight(baseURL, "/") + OpenPath + strconv.FormatInt(recipientID, 10)
}

// Compose builds the final body for one recipient. The verification button
// token is replaced before the bare link token; missing tokens are left
// alone and the template is still wrapped and given a pixel. It has no side
// effects and returns identical output for identical input.
func Compose(template string, recipientID int64, baseURL string) string {
	clickURL := ClickURL(baseURL, recipientID)

	body := strings.ReplaceAll(template, VerifyButtonToken, button(clickURL))
	body = strings.ReplaceAll(body, TrackingLinkToken, clickURL)

	var b strings.Builder
	b.Grow(len(body) + 256)
	b.WriteString("<html><body>")
	b.WriteString(body)
	b.WriteString("<br>")
	b.WriteString(pixel(OpenURL(baseURL, recipientID)))
	b.WriteString("</body></html>")
	return b.String()
}

func button(href string) string {
	return `<a href="` + href + `" style="` + buttonStyle + `">Verify Email</a>`
}

func pixel(src string) string {
	return `<img src="` + src + `" width="1" height="1" alt="" style="display:none;" />`
}
