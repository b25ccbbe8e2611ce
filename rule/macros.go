package rule

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	macroExprRe  = regexp.MustCompile(`{{(.*?)}}`)
	captureRefRe = regexp.MustCompile(`\\(\d+)`)
)

// Macros returns the standard macros of the rule instance host
func Macros(hostName string, extra map[string]string) map[string]string {
	m := map[string]string{
		"$HOSTNAME$": hostName,
	}
	for k, v := range extra {
		if !strings.HasPrefix(k, "$") {
			k = "$" + k + "$"
		}
		m[k] = v
	}
	return m
}

// ExpandText replaces macros, then evaluates "{{text~~regex~~result}}" expressions:
// the regex is searched in text and \1, \2 in result are replaced with captured groups.
// Invalid or not matching expressions are kept as is.
func ExpandText(macros map[string]string, txt string) string {
	if txt == "" {
		return txt
	}
	for k, v := range macros {
		txt = strings.ReplaceAll(txt, k, v)
	}
	return macroExprRe.ReplaceAllStringFunc(txt, func(expr string) string {
		parts := strings.Split(expr[2:len(expr)-2], "~~")
		if len(parts) != 3 {
			return expr
		}
		re, err := regexp.Compile(parts[1])
		if err != nil {
			return expr
		}
		match := re.FindStringSubmatch(parts[0])
		if match == nil {
			return expr
		}
		return captureRefRe.ReplaceAllStringFunc(parts[2], func(ref string) string {
			i, _ := strconv.Atoi(ref[1:])
			if i < len(match) {
				return match[i]
			}
			return ref
		})
	})
}

// Expand returns rule with macros expanded in names, regexes and manual targets
func (r Rule) Expand(macros map[string]string) Rule {
	r.DisplayName = ExpandText(macros, r.DisplayName)
	r.Monitor.HostName = ExpandText(macros, r.Monitor.HostName)
	r.Monitor.ServiceName = ExpandText(macros, r.Monitor.ServiceName)
	r.Monitor.OutputRegex = ExpandText(macros, r.Monitor.OutputRegex)
	r.Detection.OptionalIdentifier = ExpandText(macros, r.Detection.OptionalIdentifier)
	if len(r.Detection.Targets) > 0 {
		targets := make([]ManualTarget, len(r.Detection.Targets))
		for i, t := range r.Detection.Targets {
			targets[i] = ManualTarget{
				ID:           ExpandText(macros, t.ID),
				HostRegex:    ExpandText(macros, t.HostRegex),
				ServiceRegex: ExpandText(macros, t.ServiceRegex),
			}
			/* rule editor stores empty host as "None" */
			if targets[i].HostRegex == "None" {
				targets[i].HostRegex = ""
			}
		}
		r.Detection.Targets = targets
	}
	return r
}
