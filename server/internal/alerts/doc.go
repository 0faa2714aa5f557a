// Package alerts implements the rule evaluation engine and webhook delivery
// for hub alerting. Rules are evaluated against a flat map of hub metrics on
// a fixed interval; webhooks are delivered to Teams, Slack or generic HTTP
// targets. Rules and webhooks can be replaced at runtime with SetConfig.
package alerts
