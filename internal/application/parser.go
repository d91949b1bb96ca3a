package application

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"order-intake/internal/domain"
)

type OrderParser interface {
	Parse(text string) (domain.ParsedOrder, bool)
}

var quantityWords = []struct {
	word  string
	value int
}{
	{"one", 1}, {"two", 2}, {"three", 3}, {"four", 4}, {"five", 5},
	{"six", 6}, {"seven", 7}, {"eight", 8}, {"nine", 9}, {"ten", 10},
}

var anyDigits = regexp.MustCompile(`\d+`)

// MenuParser extracts a single-item order from free text.
//
// The grammar per catalog key is: a digit run immediately before the key,
// else a quantity word immediately before the key, else any digit run in
// the text, else one. Keys are tried in catalog order and the first key
// present in the text is the item.
type MenuParser struct {
	catalog *domain.Catalog
	rules   map[string]itemRule
}

type itemRule struct {
	digits *regexp.Regexp
	words  []wordRule
}

type wordRule struct {
	re    *regexp.Regexp
	value int
}

func NewMenuParser(catalog *domain.Catalog) *MenuParser {
	p := &MenuParser{
		catalog: catalog,
		rules:   make(map[string]itemRule),
	}

	for _, item := range catalog.Items() {
		key := regexp.QuoteMeta(item.Name)
		rule := itemRule{
			digits: regexp.MustCompile(`(\d+)\s*` + key),
		}
		for _, w := range quantityWords {
			rule.words = append(rule.words, wordRule{
				re:    regexp.MustCompile(`\b` + w.word + `\b\s*` + key),
				value: w.value,
			})
		}
		p.rules[item.Name] = rule
	}

	return p
}

func (p *MenuParser) Parse(text string) (domain.ParsedOrder, bool) {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return domain.ParsedOrder{}, false
	}

	item, ok := p.catalog.Lookup(lower)
	if !ok {
		return domain.ParsedOrder{}, false
	}

	qty := p.quantity(lower, item)

	return domain.ParsedOrder{
		ItemDisplayName: item.DisplayName,
		Quantity:        qty,
		UnitPrice:       item.UnitPrice,
		Total:           qty * item.UnitPrice,
	}, true
}

func (p *MenuParser) quantity(lower string, item domain.MenuItem) int {
	rule := p.rules[item.Name]

	for _, m := range rule.digits.FindAllStringSubmatch(lower, -1) {
		if q, ok := validQuantity(m[1], item.UnitPrice); ok {
			return q
		}
	}

	for _, w := range rule.words {
		if w.re.MatchString(lower) {
			return w.value
		}
	}

	for _, d := range anyDigits.FindAllString(lower, -1) {
		if q, ok := validQuantity(d, item.UnitPrice); ok {
			return q
		}
	}

	return 1
}

// validQuantity rejects zero and anything whose total would overflow.
func validQuantity(digits string, unitPrice int) (int, bool) {
	q, err := strconv.Atoi(digits)
	if err != nil || q < 1 {
		return 0, false
	}
	if q > math.MaxInt/unitPrice {
		return 0, false
	}
	return q, true
}
