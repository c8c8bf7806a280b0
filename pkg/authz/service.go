package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/sirupsen/logrus"
)

// denyOverrideModel allows a request only when some rule allows it and no rule denies it.
const denyOverrideModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act, eft

[policy_effect]
e = some(where (p.eft == allow)) && !some(where (p.eft == deny))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

const (
	EffectAllow = "allow"
	EffectDeny  = "deny"
)

// Rule is one allow or deny policy line.
type Rule struct {
	Subject string
	Object  string
	Action  string
	Effect  string
}

type Request struct {
	Subject string
	Object  string
	Action  string
}

// Decide evaluates req against rules with deny-override and default deny.
// A fresh in-memory enforcer is built per call; rules are not persisted.
func Decide(ctx context.Context, rules []Rule, req Request) (bool, error) {
	start := time.Now()
	allowed, err := decide(rules, req)
	recordDecision(allowed, err, time.Since(start))
	if err != nil {
		logrus.WithContext(ctx).WithField("component", "authz").WithError(err).Error("authz decision failed")
		return false, err
	}
	return allowed, nil
}

func decide(rules []Rule, req Request) (bool, error) {
	m, err := model.NewModelFromString(denyOverrideModel)
	if err != nil {
		return false, fmt.Errorf("authz: failed to parse model: %w", err)
	}
	enf, err := casbin.NewEnforcer(m)
	if err != nil {
		return false, fmt.Errorf("authz: failed to initialize enforcer: %w", err)
	}

	policies := policyLines(rules)
	if len(policies) == 0 {
		return false, nil
	}
	if _, err := enf.AddPolicies(policies); err != nil {
		return false, fmt.Errorf("authz: failed to load policies: %w", err)
	}
	res, err := enf.Enforce(req.Subject, req.Object, req.Action)
	if err != nil {
		return false, fmt.Errorf("authz: enforce failed: %w", err)
	}
	return res, nil
}

// policyLines converts rules into unique casbin policy lines; AddPolicies
// rejects a whole batch that repeats an existing line.
func policyLines(rules []Rule) [][]string {
	seen := make(map[Rule]struct{}, len(rules))
	out := make([][]string, 0, len(rules))
	for _, r := range rules {
		if r.Effect != EffectAllow && r.Effect != EffectDeny {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, []string{r.Subject, r.Object, r.Action, r.Effect})
	}
	return out
}
