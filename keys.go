package redixcluster

import "bytes"

// Command is an ordered sequence of byte strings: [verb, arg1, arg2, ...].
type Command [][]byte

// Verb returns the command's verb, unchanged (not lowercased).
func (c Command) Verb() []byte {
	if len(c) == 0 {
		return nil
	}
	return c[0]
}

// extractFunc computes the routing key for a command whose verb has
// already been matched. args is cmd[1:].
type extractFunc func(args [][]byte) []byte

// verbExtractors is the static lookup table from lowercased verb to
// extraction strategy: a hash map of verb to extraction strategy, not a
// branching construct.
var verbExtractors = map[string]extractFunc{
	"bitop":   secondArgKey,
	"object":  secondArgKey,
	"xgroup":  secondArgKey,
	"xinfo":   secondArgKey,
	"zdiff":   secondArgKey,
	"zinter":  secondArgKey,
	"zunion":  secondArgKey,
	"eval":    thirdArgKey,
	"evalsha": thirdArgKey,
	"xread":   afterStreamsToken,
	"xreadgroup": afterStreamsToken,
	"memory":  memoryUsageKey,
}

// noKeyVerbs cannot be routed to a single slot: they take no key
// argument at all, or operate cluster/connection-wide. They are permitted
// on the single-command path (with an explicit key from opts.Keys, see
// Dispatcher.Command) but forbidden inside a pipeline.
var noKeyVerbs = map[string]bool{
	"info":     true,
	"config":   true,
	"shutdown": true,
	"slaveof":  true,
}

func secondArgKey(args [][]byte) []byte {
	if len(args) < 2 {
		return nil
	}
	return args[1]
}

func thirdArgKey(args [][]byte) []byte {
	if len(args) < 3 {
		return nil
	}
	return args[2]
}

func afterStreamsToken(args [][]byte) []byte {
	for i, a := range args {
		if bytes.EqualFold(a, []byte("streams")) && i+1 < len(args) {
			return args[i+1]
		}
	}
	return nil
}

func memoryUsageKey(args [][]byte) []byte {
	if len(args) < 2 || !bytes.EqualFold(args[0], []byte("usage")) {
		return nil
	}
	return args[1]
}

func defaultKey(args [][]byte) []byte {
	if len(args) < 1 {
		return nil
	}
	return args[0]
}

func lowerVerb(cmd Command) string {
	return string(bytes.ToLower(cmd.Verb()))
}

// Extract returns the routing key for a single command, following the
// per-verb table above. It returns (nil, nil) for info, config, shutdown
// and slaveof (permitted on the single-command path, see
// Dispatcher.Command's explicit key opt-in); (nil, ErrInvalidCluster
// Command) is never returned from Extract itself -- pipeline-only
// forbiddance lives in ExtractAll.
func Extract(cmd Command) ([]byte, error) {
	if len(cmd) == 0 {
		return nil, nil
	}
	verb := lowerVerb(cmd)
	if noKeyVerbs[verb] {
		return nil, nil
	}
	args := cmd[1:]
	if fn, ok := verbExtractors[verb]; ok {
		return fn(args), nil
	}
	return defaultKey(args), nil
}

// ExtractAll derives the shared routing key for a pipeline or
// transaction's commands:
//
//   - if the first command is MULTI, fail with ErrNoSupportTransaction;
//   - any command of info/config/shutdown/slaveof fails the whole
//     pipeline with ErrInvalidClusterCommand;
//   - commands shorter than 2 elements contribute no key;
//   - all non-nil keys that result must agree after hashing -- that
//     check is the caller's job (Dispatcher computes slots and compares),
//     ExtractAll only returns the list of extracted keys in order.
func ExtractAll(pipeline []Command) ([][]byte, error) {
	if len(pipeline) > 0 && bytes.EqualFold(pipeline[0].Verb(), []byte("multi")) {
		return nil, ErrNoSupportTransaction
	}

	keys := make([][]byte, 0, len(pipeline))
	for _, cmd := range pipeline {
		if noKeyVerbs[lowerVerb(cmd)] {
			return nil, ErrInvalidClusterCommand
		}
		if len(cmd) < 2 {
			continue
		}
		key, err := Extract(cmd)
		if err != nil {
			return nil, err
		}
		if key != nil {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
