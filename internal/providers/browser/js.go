package browser

import (
	"encoding/json"
	"fmt"
)

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// Script formats a page script, quoting every argument as a JavaScript
// string literal.
func Script(format string, args ...string) string {
	quoted := make([]any, len(args))
	for i, a := range args {
		quoted[i] = jsString(a)
	}
	return fmt.Sprintf(format, quoted...)
}

// ClickText clicks the first element matching selector whose visible text
// contains text, case-insensitively, and reports whether one was found.
func ClickText(selector, text string) string {
	return Script(`(() => {
		const want = %s.toLowerCase();
		const el = Array.from(document.querySelectorAll(%s))
			.find((n) => (n.innerText || n.textContent || "").toLowerCase().includes(want));
		if (!el) return false;
		el.click();
		return true;
	})()`, text, selector)
}

// Exists reports whether selector matches any element.
func Exists(selector string) string {
	return Script(`!!document.querySelector(%s)`, selector)
}

// InnerText returns the text of the first element matching selector, or an
// empty string.
func InnerText(selector string) string {
	return Script(`(() => { const el = document.querySelector(%s); return el ? (el.innerText || "") : ""; })()`, selector)
}

// LastVideoSource returns the source URL of the last <video> element with
// an http(s) source, or an empty string.
const LastVideoSource = `(() => {
	const vids = Array.from(document.querySelectorAll("video"))
		.map((v) => v.currentSrc || v.src || (v.querySelector("source") || {}).src || "")
		.filter((src) => src.startsWith("http") || src.startsWith("blob:"));
	return vids.length ? vids[vids.length - 1] : "";
})()`

// VideoCount counts <video> elements on the page.
const VideoCount = `document.querySelectorAll("video").length`

// AnchorDownload makes the page save url through an anchor click, which
// keeps the page's cookies on the request.
func AnchorDownload(url string) string {
	return Script(`(() => {
		const a = document.createElement("a");
		a.href = %s;
		a.download = "";
		document.body.appendChild(a);
		a.click();
		a.remove();
		return true;
	})()`, url)
}
