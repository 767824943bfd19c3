// Package template renders outbound message bodies: spintax variants first,
// then per-recipient placeholders.
package template

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
)

// RecipientContext carries the values placeholders are substituted with.
type RecipientContext struct {
	Name      string
	Phone     string
	Email     string
	Plan      string
	Link      string
	ExpiresAt *time.Time
	Custom    map[string]string
}

// FromVariables builds a context from a free-form variable map, as carried
// by campaign contacts. Well-known keys fill the built-in fields; every
// key stays available as a custom placeholder.
func FromVariables(name, phone string, vars map[string]string) RecipientContext {
	rc := RecipientContext{
		Name:   name,
		Phone:  phone,
		Email:  vars["email"],
		Plan:   vars["plano"],
		Link:   vars["link"],
		Custom: vars,
	}
	if rc.Name == "" {
		rc.Name = vars["nome"]
	}
	if v, ok := vars["vencimento"]; ok {
		if t, err := time.Parse("02/01/2006", v); err == nil {
			rc.ExpiresAt = &t
		}
	}
	return rc
}

var (
	spintaxRe     = regexp.MustCompile(`\{\{((?:[^{}]|\{[A-Za-z0-9_]*\})*)\}\}`)
	placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)
)

// Renderer resolves templates. The zero value uses the wall clock and the
// process-wide random source.
type Renderer struct {
	Now  func() time.Time
	Intn func(n int) int
}

// Default is the renderer behind the package-level helpers.
var Default Renderer

// Resolve renders tpl for one recipient. Spintax choices are random, so two
// calls with the same input may differ.
func Resolve(tpl string, rc RecipientContext) string {
	return Default.Resolve(tpl, rc)
}

func (r Renderer) Resolve(tpl string, rc RecipientContext) string {
	return r.Substitute(r.ResolveSpintax(tpl), rc)
}

// ResolveSpintax replaces every {{key: a | b}} block with one of its options.
// Blocks without a ':' separator are left untouched.
func (r Renderer) ResolveSpintax(tpl string) string {
	return spintaxRe.ReplaceAllStringFunc(tpl, func(block string) string {
		inner := block[2 : len(block)-2]
		_, opts, ok := splitBlock(inner)
		if !ok {
			return block
		}
		switch len(opts) {
		case 0:
			return ""
		case 1:
			return opts[0]
		}
		return opts[r.intn(len(opts))]
	})
}

// Substitute replaces the known placeholders and any custom keys found in rc.
// Unknown placeholders are kept verbatim.
func (r Renderer) Substitute(text string, rc RecipientContext) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(ph string) string {
		key := ph[1 : len(ph)-1]
		if v, ok := r.builtin(key, rc); ok {
			return v
		}
		if v, ok := rc.Custom[key]; ok {
			return v
		}
		return ph
	})
}

func (r Renderer) builtin(key string, rc RecipientContext) (string, bool) {
	switch key {
	case "nome":
		return rc.Name, true
	case "primeiro_nome":
		return firstName(rc.Name), true
	case "telefone":
		return rc.Phone, true
	case "plano":
		return rc.Plan, true
	case "email":
		return rc.Email, true
	case "link":
		return rc.Link, true
	case "vencimento":
		if rc.ExpiresAt == nil {
			return "", true
		}
		return rc.ExpiresAt.Format("02/01/2006"), true
	case "dias":
		if rc.ExpiresAt == nil {
			return "", true
		}
		return strconv.Itoa(DaysUntil(r.now(), *rc.ExpiresAt)), true
	}
	return "", false
}

// DaysUntil is ceil((expires - now) / 24h).
func DaysUntil(now, expires time.Time) int {
	d := expires.Sub(now)
	return int(math.Ceil(float64(d) / float64(24*time.Hour)))
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (r Renderer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Renderer) intn(n int) int {
	if r.Intn != nil {
		return r.Intn(n)
	}
	return rand.IntN(n)
}

// splitBlock splits "key: a | b" into its label and trimmed, non-empty options.
func splitBlock(inner string) (string, []string, bool) {
	key, rest, ok := strings.Cut(inner, ":")
	if !ok {
		return "", nil, false
	}
	var opts []string
	for _, o := range strings.Split(rest, "|") {
		if o = strings.TrimSpace(o); o != "" {
			opts = append(opts, o)
		}
	}
	return strings.TrimSpace(key), opts, true
}

// Validate reports shape problems a producer should surface before saving a
// template. Send-time resolution never calls it.
func Validate(tpl string) error {
	var errs []error
	open, closed := strings.Count(tpl, "{{"), strings.Count(tpl, "}}")
	if open != closed {
		errs = append(errs, appErrors.NewValidation("template",
			fmt.Sprintf("unbalanced spintax braces: %d '{{' vs %d '}}'", open, closed)))
	}
	for _, m := range spintaxRe.FindAllStringSubmatch(tpl, -1) {
		key, opts, ok := splitBlock(m[1])
		if !ok {
			continue
		}
		if len(opts) < 2 {
			errs = append(errs, appErrors.NewValidation("template",
				fmt.Sprintf("spintax block %q needs at least 2 options, has %d", key, len(opts))))
		}
	}
	return errors.Join(errs...)
}
