package main

import (
	"github.com/avolk/remoteprov/pkg/connection"
	"github.com/avolk/remoteprov/pkg/consumer"
)

// ServiceConfig is the provisioner service configuration, loaded from the
// YAML file named by PROVISIONER_CONFIG.
type ServiceConfig struct {
	Kafka consumer.Config `yaml:"kafka"`

	Mongo struct {
		URI        string `yaml:"uri"`
		Database   string `yaml:"database"`
		Collection string `yaml:"collection"`
	} `yaml:"mongo"`

	HTTPPort   string `yaml:"http_port"`
	AuditDir   string `yaml:"audit_dir"`
	MaxWorkers int    `yaml:"max_workers"`
}

// ProvisionJob is one queued provisioning request: where to connect and
// what to run there.
type ProvisionJob struct {
	Connection connection.Config `json:"connection"`
	Script     string            `json:"script"`
}
