// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

package snare

import (
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// List of queue disciplines.
const (
	QueueSequential = `sequential`
	QueueParallel   = `parallel`
	QueueEvict      = `evict`
)

const (
	defConfigFile = `/etc/snare/snare.conf`
	defTimeout    = 3600
	defMaxQueue   = 128
)

// MatchRule pair a regular expression over "owner/repo" with a partial
// settings overlay.
// Rules are evaluated in declaration order; every matching rule override
// the fields it sets.
type MatchRule struct {
	pattern *regexp.Regexp

	// Pattern is the regular expression as written in the
	// configuration, without the implicit anchors.
	Pattern string

	Cmd      string
	ErrorCmd string
	Queue    string
	Secret   string

	// Timeout for the command, in seconds.
	// Zero means not set by this rule.
	Timeout int

	// MaxQueue bound the pending list under the sequential discipline.
	// Zero means not set by this rule.
	MaxQueue int

	// KillDelay is the number of seconds after SIGTERM before the
	// process group is killed with SIGKILL.
	// Zero, the default, never send SIGKILL.
	KillDelay int

	// synthetic is true only for the default rule prepended at load
	// time.
	// It is skipped when the configuration is re-serialized.
	synthetic bool
}

// Settings is the result of folding all matching rules, in order, over the
// defaults.
type Settings struct {
	Cmd      string
	ErrorCmd string
	Queue    string
	Secret   string

	Timeout   time.Duration
	KillDelay time.Duration
	MaxQueue  int
}

// Config contains the full daemon configuration, immutable after load.
type Config struct {
	// Listen address for the webhook endpoint, "ADDR:PORT".
	Listen string

	// MetricsListen, if set, is a second address serving Prometheus
	// metrics.
	MetricsListen string

	// User to drop privileges to after binding the listen socket.
	User string

	// MaxJobs is the maximum number of commands running at the same
	// time, across all repositories.
	// Default to the number of CPUs.
	MaxJobs int

	// Rules is the ordered list of match rules, including the
	// synthetic default rule at index 0.
	Rules []*MatchRule

	file string
}

// LoadConfig load and validate the configuration from file.
func LoadConfig(file string) (cfg *Config, err error) {
	var logp = `LoadConfig`

	var content []byte

	content, err = os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf(`%s: %w`, logp, err)
	}

	cfg, err = ParseConfig(content)
	if err != nil {
		return nil, fmt.Errorf(`%s: %s: %w`, logp, file, err)
	}

	cfg.file = file

	return cfg, nil
}

// ParseConfig parse the configuration from raw content and validate it.
func ParseConfig(content []byte) (cfg *Config, err error) {
	var p = &configParser{
		content: content,
		line:    1,
	}

	cfg = &Config{}

	err = p.parse(cfg)
	if err != nil {
		return nil, err
	}

	err = cfg.init()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// init validate the options and prepend the synthetic default rule.
func (cfg *Config) init() (err error) {
	if len(cfg.Listen) == 0 {
		return fmt.Errorf(`missing option "listen"`)
	}
	if cfg.MaxJobs < 0 {
		return fmt.Errorf(`option "maxjobs" must be positive, got %d`, cfg.MaxJobs)
	}
	if cfg.MaxJobs == 0 {
		cfg.MaxJobs = runtime.NumCPU()
	}

	var defRule = &MatchRule{
		Pattern:   `.*`,
		Queue:     QueueSequential,
		Timeout:   defTimeout,
		MaxQueue:  defMaxQueue,
		synthetic: true,
	}
	cfg.Rules = append([]*MatchRule{defRule}, cfg.Rules...)

	var rule *MatchRule

	for _, rule = range cfg.Rules {
		err = rule.init()
		if err != nil {
			return fmt.Errorf(`match %q: %w`, rule.Pattern, err)
		}
	}

	return nil
}

// init compile the rule pattern and validate its overlay.
func (rule *MatchRule) init() (err error) {
	rule.pattern, err = regexp.Compile(`^(?:` + rule.Pattern + `)$`)
	if err != nil {
		return err
	}

	if len(rule.Cmd) != 0 {
		err = validateEscapes(rule.Cmd, cmdEscapes)
		if err != nil {
			return fmt.Errorf(`cmd: %w`, err)
		}
	}
	if len(rule.ErrorCmd) != 0 {
		err = validateEscapes(rule.ErrorCmd, errorCmdEscapes)
		if err != nil {
			return fmt.Errorf(`errorcmd: %w`, err)
		}
	}

	switch rule.Queue {
	case ``, QueueSequential, QueueParallel, QueueEvict:
		// OK.
	default:
		return fmt.Errorf(`unknown queue kind %q`, rule.Queue)
	}

	if rule.Timeout < 0 {
		return fmt.Errorf(`timeout must be positive, got %d`, rule.Timeout)
	}
	if rule.MaxQueue < 0 {
		return fmt.Errorf(`maxqueue must be positive, got %d`, rule.MaxQueue)
	}
	if rule.KillDelay < 0 {
		return fmt.Errorf(`killdelay must be positive, got %d`, rule.KillDelay)
	}

	return nil
}

// settingsFor fold all rules matching "owner/repo", in declaration order,
// over the defaults.
// It returns errNoCommand if no matching rule set the "cmd" option.
func (cfg *Config) settingsFor(key string) (set Settings, err error) {
	var rule *MatchRule

	for _, rule = range cfg.Rules {
		if !rule.pattern.MatchString(key) {
			continue
		}
		if len(rule.Cmd) != 0 {
			set.Cmd = rule.Cmd
		}
		if len(rule.ErrorCmd) != 0 {
			set.ErrorCmd = rule.ErrorCmd
		}
		if len(rule.Queue) != 0 {
			set.Queue = rule.Queue
		}
		if len(rule.Secret) != 0 {
			set.Secret = rule.Secret
		}
		if rule.Timeout != 0 {
			set.Timeout = time.Duration(rule.Timeout) * time.Second
		}
		if rule.MaxQueue != 0 {
			set.MaxQueue = rule.MaxQueue
		}
		if rule.KillDelay != 0 {
			set.KillDelay = time.Duration(rule.KillDelay) * time.Second
		}
	}

	if len(set.Cmd) == 0 {
		return set, &errNoCommand
	}

	return set, nil
}

// String serialize the Config back to its text format.
// Parsing the result produces a semantically identical Config.
func (cfg *Config) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "listen = %s;\n", quoteString(cfg.Listen))
	fmt.Fprintf(&sb, "maxjobs = %d;\n", cfg.MaxJobs)
	if len(cfg.User) != 0 {
		fmt.Fprintf(&sb, "user = %s;\n", quoteString(cfg.User))
	}
	if len(cfg.MetricsListen) != 0 {
		fmt.Fprintf(&sb, "metrics_listen = %s;\n", quoteString(cfg.MetricsListen))
	}

	sb.WriteString("github {\n")

	var rule *MatchRule

	for _, rule = range cfg.Rules {
		if rule.synthetic {
			continue
		}
		fmt.Fprintf(&sb, "  match %s {\n", quoteString(rule.Pattern))
		if len(rule.Cmd) != 0 {
			fmt.Fprintf(&sb, "    cmd = %s;\n", quoteString(rule.Cmd))
		}
		if len(rule.ErrorCmd) != 0 {
			fmt.Fprintf(&sb, "    errorcmd = %s;\n", quoteString(rule.ErrorCmd))
		}
		if len(rule.Queue) != 0 {
			fmt.Fprintf(&sb, "    queue = %s;\n", rule.Queue)
		}
		if len(rule.Secret) != 0 {
			fmt.Fprintf(&sb, "    secret = %s;\n", quoteString(rule.Secret))
		}
		if rule.Timeout != 0 {
			fmt.Fprintf(&sb, "    timeout = %d;\n", rule.Timeout)
		}
		if rule.MaxQueue != 0 {
			fmt.Fprintf(&sb, "    maxqueue = %d;\n", rule.MaxQueue)
		}
		if rule.KillDelay != 0 {
			fmt.Fprintf(&sb, "    killdelay = %d;\n", rule.KillDelay)
		}
		sb.WriteString("  }\n")
	}

	sb.WriteString("}\n")

	return sb.String()
}

func quoteString(s string) string {
	var sb strings.Builder

	sb.WriteByte('"')

	var x int
	for x = 0; x < len(s); x++ {
		switch s[x] {
		case '\\', '"':
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[x])
	}

	sb.WriteByte('"')

	return sb.String()
}

// configParser parse the braced, semicolon-terminated option language.
type configParser struct {
	content []byte
	x       int
	line    int
}

func (p *configParser) errorf(format string, args ...any) error {
	return fmt.Errorf(`line %d: %s`, p.line, fmt.Sprintf(format, args...))
}

// skipSpace advance past white spaces and "#" line comments.
func (p *configParser) skipSpace() {
	for p.x < len(p.content) {
		var c = p.content[p.x]
		if c == '#' {
			for p.x < len(p.content) && p.content[p.x] != '\n' {
				p.x++
			}
			continue
		}
		if c != ' ' && c != '\t' && c != '\r' && c != '\n' {
			return
		}
		if c == '\n' {
			p.line++
		}
		p.x++
	}
}

func (p *configParser) peek() byte {
	if p.x >= len(p.content) {
		return 0
	}
	return p.content[p.x]
}

// expect consume the single character c or fail.
func (p *configParser) expect(c byte) (err error) {
	p.skipSpace()
	if p.peek() != c {
		return p.errorf(`expecting %q`, string(c))
	}
	p.x++
	return nil
}

func isIdentChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c == '_'
}

// ident read a bare identifier (option name or unquoted value).
func (p *configParser) ident() (id string, err error) {
	p.skipSpace()

	var start = p.x
	for p.x < len(p.content) && isIdentChar(p.content[p.x]) {
		p.x++
	}
	if p.x == start {
		return ``, p.errorf(`expecting identifier`)
	}
	return string(p.content[start:p.x]), nil
}

// str read a double-quoted string with `\\` and `\"` escapes.
func (p *configParser) str() (s string, err error) {
	p.skipSpace()
	if p.peek() != '"' {
		return ``, p.errorf(`expecting '"'`)
	}
	p.x++

	var sb strings.Builder

	for p.x < len(p.content) {
		var c = p.content[p.x]
		switch c {
		case '"':
			p.x++
			return sb.String(), nil
		case '\\':
			p.x++
			if p.x >= len(p.content) {
				return ``, p.errorf(`unterminated string`)
			}
			c = p.content[p.x]
			if c != '\\' && c != '"' {
				return ``, p.errorf(`unknown string escape '\%c'`, c)
			}
			sb.WriteByte(c)
		case '\n':
			return ``, p.errorf(`unterminated string`)
		default:
			sb.WriteByte(c)
		}
		p.x++
	}
	return ``, p.errorf(`unterminated string`)
}

// integer read a positive decimal value.
func (p *configParser) integer() (v int, err error) {
	var id string

	id, err = p.ident()
	if err != nil {
		return 0, err
	}
	v, err = strconv.Atoi(id)
	if err != nil {
		return 0, p.errorf(`expecting integer, got %q`, id)
	}
	return v, nil
}

// parse the top-level options into cfg.
func (p *configParser) parse(cfg *Config) (err error) {
	for {
		p.skipSpace()
		if p.x >= len(p.content) {
			return nil
		}

		var name string

		name, err = p.ident()
		if err != nil {
			return err
		}

		if name == `github` {
			err = p.parseGithub(cfg)
			if err != nil {
				return err
			}
			continue
		}

		err = p.expect('=')
		if err != nil {
			return err
		}

		switch name {
		case `listen`:
			cfg.Listen, err = p.str()
		case `metrics_listen`:
			cfg.MetricsListen, err = p.str()
		case `user`:
			cfg.User, err = p.str()
		case `maxjobs`:
			cfg.MaxJobs, err = p.integer()
		default:
			return p.errorf(`unknown option %q`, name)
		}
		if err != nil {
			return err
		}

		err = p.expect(';')
		if err != nil {
			return err
		}
	}
}

// parseGithub parse the "github { match ... }" block.
func (p *configParser) parseGithub(cfg *Config) (err error) {
	err = p.expect('{')
	if err != nil {
		return err
	}

	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.x++
			return nil
		}

		var name string

		name, err = p.ident()
		if err != nil {
			return err
		}
		if name != `match` {
			return p.errorf(`expecting "match", got %q`, name)
		}

		var rule = &MatchRule{}

		rule.Pattern, err = p.str()
		if err != nil {
			return err
		}

		err = p.parseMatch(rule)
		if err != nil {
			return err
		}

		cfg.Rules = append(cfg.Rules, rule)
	}
}

// parseMatch parse the options inside one "match" block.
func (p *configParser) parseMatch(rule *MatchRule) (err error) {
	err = p.expect('{')
	if err != nil {
		return err
	}

	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.x++
			return nil
		}

		var name string

		name, err = p.ident()
		if err != nil {
			return err
		}

		err = p.expect('=')
		if err != nil {
			return err
		}

		switch name {
		case `cmd`:
			rule.Cmd, err = p.str()
		case `errorcmd`:
			rule.ErrorCmd, err = p.str()
		case `secret`:
			rule.Secret, err = p.str()
		case `queue`:
			rule.Queue, err = p.ident()
		case `timeout`:
			rule.Timeout, err = p.integer()
		case `maxqueue`:
			rule.MaxQueue, err = p.integer()
		case `killdelay`:
			rule.KillDelay, err = p.integer()
		default:
			return p.errorf(`unknown match option %q`, name)
		}
		if err != nil {
			return err
		}

		err = p.expect(';')
		if err != nil {
			return err
		}
	}
}
