package metadata

import (
	"fmt"
	"strings"
)

// Footer is appended to the description at upload time only.
const Footer = `
—
Plan ₿ Network  — Scaling Bitcoin Adoption

Level up your Bitcoin knowledge and Explore all our free, open‑source courses on the platform:
https://planb.network

Follow us on social:
Twitter: @planb_network

⚠️ Disclaimer & Risk Warning

Cryptocurrencies are risky. All content is for educational and informational purposes only and does not constitute financial advice. Consult a licensed financial adviser before making any significant financial decisions. Bitcoin is highly volatile and speculative; investing can lead to losses. Never invest more than you can afford to lose. Past performance is not indicative of future results.

The crypto industry contains scams—verify sources and do your own research. Do not trust anyone blindly, including us. We do not partner with any altcoin projects. Our content is free and open source under the CC BY-SA license. We are independent and have no obligations or contracts with any cryptocurrency or ICO.

We will never ask for your private information (seed phrase, private keys, name, address, KYC). We are not responsible for losses due to scams, key mismanagement, or poor investments.

More info:

💻 https://planb.network/about

📬 contact@planb.network

—`

const displayPrefix = "BTC"

// CourseDisplay upper-cases a course code, separating the BTC prefix from
// the rest: "btc101" becomes "BTC 101".
func CourseDisplay(course string) string {
	upper := strings.ToUpper(course)
	if strings.HasPrefix(upper, displayPrefix) && len(upper) > len(displayPrefix) {
		return displayPrefix + " " + upper[len(displayPrefix):]
	}
	return upper
}

// Title builds the display title "[BTC 101] - 2.3 - Chapter".
func Title(course string, part, chapter int, chapterTitle string) string {
	return fmt.Sprintf("[%s] - %d.%d - %s", CourseDisplay(course), part, chapter, chapterTitle)
}

// Description builds the base description stored with the record.
func Description(course, courseTitle string) string {
	return fmt.Sprintf("%s - %s", CourseDisplay(course), courseTitle)
}

// UploadDescription is the description sent to platforms.
func UploadDescription(base string) string {
	return base + "\n" + Footer
}
