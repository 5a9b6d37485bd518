package logging_test

import (
	"github.com/sirupsen/logrus"

	"github.com/grovetools/livequery/logging"
)

func ExampleNewLogger() {
	// Create a logger for your component
	log := logging.NewLogger("client")

	log.Debug("dialing")
	log.Info("connection open")
	log.Warn("dropping frame for unknown channel")

	// Add structured fields
	log.WithFields(logrus.Fields{
		"channel":   3,
		"statement": "select * from rooms live",
	}).Info("statement sent")
}

func ExampleNewLogger_configuration() {
	// Configuration via livequery.yml:
	//
	// logging:
	//   level: debug
	//   report_caller: true
	//   file:
	//     enabled: true
	//     format: json
	//   format:
	//     preset: simple
	//     structured_to_stderr: always

	// Or via environment variables:
	// LIVEQUERY_LOG_LEVEL=debug
	// LIVEQUERY_LOG_CALLER=true

	log := logging.NewLogger("tree")
	log.Info("This will respect the configuration")
}
