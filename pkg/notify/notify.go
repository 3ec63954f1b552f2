package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/containrrr/shoutrrr"
	"github.com/containrrr/shoutrrr/pkg/types"
	"go.uber.org/zap"

	"github.com/nodeset-org/nodeset-analytics/pkg/efficiency"
)

type sender interface {
	Send(message string, params *types.Params) []error
}

// Notifier alerts Shoutrrr services when validators go down or recover.
type Notifier struct {
	logger  *zap.Logger
	senders []sender
	down    map[phase0.ValidatorIndex]efficiency.DownValidator
	display func(operator string) string
}

// New creates a notifier for the Shoutrrr service URLs. Invalid URLs are
// logged and skipped. display formats operators in messages, if set.
func New(logger *zap.Logger, urls []string, display func(string) string) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		logger:  logger,
		down:    map[phase0.ValidatorIndex]efficiency.DownValidator{},
		display: display,
	}
	for _, url := range urls {
		s, err := shoutrrr.CreateSender(url)
		if err != nil {
			logger.Warn("Failed to create notification sender", zap.Error(err))
			continue
		}
		n.senders = append(n.senders, s)
	}
	if n.display == nil {
		n.display = func(operator string) string { return operator }
	}
	return n
}

func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Update compares the down validators against the previous update and sends
// a message for newly down and recovered validators. It returns the message,
// which is empty when nothing changed.
func (n *Notifier) Update(down []efficiency.DownValidator) string {
	current := make(map[phase0.ValidatorIndex]efficiency.DownValidator, len(down))
	var newlyDown, recovered []efficiency.DownValidator
	for _, d := range down {
		current[d.ValidatorIndex] = d
		if _, ok := n.down[d.ValidatorIndex]; !ok {
			newlyDown = append(newlyDown, d)
		}
	}
	for index, d := range n.down {
		if _, ok := current[index]; !ok {
			recovered = append(recovered, d)
		}
	}
	n.down = current

	message := n.format(newlyDown, recovered)
	if message == "" {
		return ""
	}
	n.send(message)
	return message
}

func (n *Notifier) send(message string) {
	for _, s := range n.senders {
		for _, err := range s.Send(message, nil) {
			if err != nil {
				n.logger.Warn("Failed to send notification", zap.Error(err))
			}
		}
	}
}

func (n *Notifier) format(newlyDown, recovered []efficiency.DownValidator) string {
	var b strings.Builder
	write := func(title string, validators []efficiency.DownValidator) {
		if len(validators) == 0 {
			return
		}
		sort.Slice(validators, func(i, j int) bool {
			return validators[i].ValidatorIndex < validators[j].ValidatorIndex
		})
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s (%d):\n", title, len(validators))
		for _, v := range validators {
			fmt.Fprintf(&b, "- validator %d of %s", v.ValidatorIndex, n.display(v.Operator))
			if v.ConsecutiveMisses > 0 {
				fmt.Fprintf(&b, ", %d missed attestations up to epoch %d", v.ConsecutiveMisses, v.LatestEpoch)
			}
			b.WriteString("\n")
		}
	}
	write("Validators down", newlyDown)
	write("Validators recovered", recovered)
	return strings.TrimSuffix(b.String(), "\n")
}
