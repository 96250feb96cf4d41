// Package user_agent classifies raw User-Agent headers into operating
// system, browser and device labels using ordered PCRE signatures.
package user_agent

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Unknown is reported for any dimension no signature matched.
const Unknown = "Unknown"

type UserAgent struct {
	UserAgent string
	OS        string
	Browser   string
	Device    string
	Bot       bool
}

//go:embed rules.yml
var rulesFile []byte

// Rule maps one signature to a label.
type Rule struct {
	Regex string `yaml:"regex"`
	Name  string `yaml:"name"`
}

// Rules are the ordered signature lists. Within a list the first match wins.
type Rules struct {
	Bots             []Rule `yaml:"bots"`
	OperatingSystems []Rule `yaml:"operating_systems"`
	Browsers         []Rule `yaml:"browsers"`
	Devices          []Rule `yaml:"devices"`
}

// RegexCache compiles each pattern once and shares it between goroutines.
type RegexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *RegexCache {
	return &RegexCache{
		compiled: make(map[string]*pcre.Regexp),
	}
}

func (rc *RegexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

// Classifier matches User-Agent strings against a rule set.
type Classifier struct {
	rules Rules
	cache *RegexCache
}

// NewClassifier parses YAML rules and compiles every pattern up front so a bad
// signature fails here rather than during capture.
func NewClassifier(data []byte) (*Classifier, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("error parsing user agent rules: %w", err)
	}

	c := &Classifier{rules: rules, cache: newRegexCache()}
	for _, list := range [][]Rule{rules.Bots, rules.OperatingSystems, rules.Browsers, rules.Devices} {
		for _, rule := range list {
			if _, err := c.cache.get(rule.Regex); err != nil {
				return nil, fmt.Errorf("invalid user agent pattern %q for %s: %w", rule.Regex, rule.Name, err)
			}
		}
	}
	return c, nil
}

var (
	defaultClassifier *Classifier
	once              sync.Once
)

func getClassifier() *Classifier {
	once.Do(func() {
		c, err := NewClassifier(rulesFile)
		if err != nil {
			slog.Error("Failed to load embedded user agent rules", slog.Any("error", err))
			c = &Classifier{cache: newRegexCache()}
		}
		defaultClassifier = c
	})
	return defaultClassifier
}

func (c *Classifier) match(rules []Rule, userAgent string) (string, bool) {
	for _, rule := range rules {
		regex, err := c.cache.get(rule.Regex)
		if err != nil {
			continue
		}
		if regex.MatchString(userAgent) {
			return rule.Name, true
		}
	}
	return Unknown, false
}

// Parse classifies userAgent. An empty header classifies as Unknown on every
// dimension.
func (c *Classifier) Parse(userAgent string) UserAgent {
	result := UserAgent{UserAgent: userAgent, OS: Unknown, Browser: Unknown, Device: Unknown}
	if userAgent == "" {
		return result
	}

	_, result.Bot = c.match(c.rules.Bots, userAgent)
	result.OS, _ = c.match(c.rules.OperatingSystems, userAgent)
	result.Browser, _ = c.match(c.rules.Browsers, userAgent)
	result.Device, _ = c.match(c.rules.Devices, userAgent)
	return result
}

// ParseUserAgent classifies userAgent with the embedded rules.
func ParseUserAgent(userAgent string) UserAgent {
	return getClassifier().Parse(userAgent)
}
