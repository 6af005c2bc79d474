package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/kafkaops/agent/pkg/model"
)

// IaaSConfig configures the IaaS provider's cloud back-end and CLI/SDK
// access, the way S3Config configures S3Store in the objectstore package
// this is grounded on.
type IaaSConfig struct {
	WorkDir          string
	TerraformBinary  string
	Region           string
	AccessKey        string
	SecretKey        string
	InstanceType     string
	AMI              string
	KeyPairName      string
	SubnetID         string
}

// IaaSProvider generates a bundle of declarative infrastructure-as-code
// files per instance and drives init/plan/apply/destroy via the
// Terraform binary (spec §4.4), grounded on
// providers/terraform_provider.py's three-phase lifecycle. It also talks
// to EC2 directly for status/health checks once instances exist, grounded
// on objectstore.S3Store's aws-sdk-go-v2 config-loading and
// error-classification pattern.
type IaaSProvider struct {
	cfg    IaaSConfig
	ec2    *ec2.Client
	logger *slog.Logger
}

// NewIaaSProvider loads AWS config the same way S3Store does: static
// credentials when supplied, ambient credentials chain otherwise.
func NewIaaSProvider(ctx context.Context, cfg IaaSConfig, logger *slog.Logger) (*IaaSProvider, error) {
	if cfg.TerraformBinary == "" {
		cfg.TerraformBinary = "terraform"
	}
	if cfg.InstanceType == "" {
		cfg.InstanceType = "t3.medium"
	}

	awsOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return &IaaSProvider{cfg: cfg, ec2: ec2.NewFromConfig(awsCfg), logger: logger}, nil
}

var _ Runtime = (*IaaSProvider)(nil)

func (p *IaaSProvider) instanceDir(instanceID string) string {
	return filepath.Join(p.cfg.WorkDir, instanceID)
}

// mainTF is the generated bundle's root module: VPC, subnet, firewall
// opening {22, 2181, 2888-3888, 9092}, one coordinator VM, N broker VMs
// with user-data that installs and systemd-enables the processes.
var mainTF = template.Must(template.New("main").Parse(`terraform {
  required_providers {
    aws = {
      source  = "hashicorp/aws"
      version = "~> 5.0"
    }
  }
}

provider "aws" {
  region = "{{.Region}}"
}

resource "aws_vpc" "cluster" {
  cidr_block           = "10.0.0.0/16"
  enable_dns_hostnames = true
  tags = { Name = "{{.InstanceID}}-vpc" }
}

resource "aws_subnet" "cluster" {
  vpc_id            = aws_vpc.cluster.id
  cidr_block        = "10.0.1.0/24"
  availability_zone = "{{.Region}}a"
  tags = { Name = "{{.InstanceID}}-subnet" }
}

resource "aws_security_group" "cluster" {
  name_prefix = "{{.InstanceID}}-sg"
  vpc_id      = aws_vpc.cluster.id

  ingress { from_port = 22, to_port = 22, protocol = "tcp", cidr_blocks = ["0.0.0.0/0"] }
  ingress { from_port = 2181, to_port = 2181, protocol = "tcp", cidr_blocks = [aws_vpc.cluster.cidr_block] }
  ingress { from_port = 2888, to_port = 3888, protocol = "tcp", cidr_blocks = [aws_vpc.cluster.cidr_block] }
  ingress { from_port = 9092, to_port = 9092, protocol = "tcp", cidr_blocks = [aws_vpc.cluster.cidr_block] }
  egress  { from_port = 0, to_port = 0, protocol = "-1", cidr_blocks = ["0.0.0.0/0"] }
}

resource "aws_instance" "coordinator" {
  ami                    = "{{.AMI}}"
  instance_type          = "{{.InstanceType}}"
  subnet_id              = aws_subnet.cluster.id
  vpc_security_group_ids = [aws_security_group.cluster.id]
  user_data              = file("${path.module}/coordinator-setup.sh")
  tags = { Name = "{{.InstanceID}}-coordinator", ManagedBy = "kafkaops-agent" }
}

resource "aws_instance" "broker" {
  count                  = {{.ClusterSize}}
  ami                    = "{{.AMI}}"
  instance_type          = "{{.InstanceType}}"
  subnet_id              = aws_subnet.cluster.id
  vpc_security_group_ids = [aws_security_group.cluster.id]
  root_block_device { volume_size = {{.StorageGiB}} }
  user_data              = templatefile("${path.module}/broker-setup.sh.tmpl", { broker_id = count.index })
  tags = { Name = "{{.InstanceID}}-broker-${count.index}", ManagedBy = "kafkaops-agent" }
}

output "bootstrap_servers" {
  value = [for b in aws_instance.broker : "${b.private_ip}:9092"]
}

output "coordinator_connect" {
  value = "${aws_instance.coordinator.private_ip}:2181"
}
`))

type mainTFVars struct {
	InstanceID   string
	Region       string
	AMI          string
	InstanceType string
	ClusterSize  int
	StorageGiB   int
}

const coordinatorSetupScript = `#!/bin/bash
set -e
apt-get update && apt-get install -y openjdk-17-jre-headless
useradd -m kafkaops || true
systemctl enable --now zookeeper || true
`

const brokerSetupScript = `#!/bin/bash
set -e
apt-get update && apt-get install -y openjdk-17-jre-headless
useradd -m kafkaops || true
echo "broker.id=${broker_id}" >> /etc/kafka/server.properties
systemctl enable --now kafka || true
`

func (p *IaaSProvider) generateBundle(instanceID string, cfg model.ClusterConfig) (string, error) {
	dir := p.instanceDir(instanceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating bundle directory: %w", err)
	}

	var buf bytes.Buffer
	vars := mainTFVars{
		InstanceID:   instanceID,
		Region:       p.cfg.Region,
		AMI:          p.cfg.AMI,
		InstanceType: p.cfg.InstanceType,
		ClusterSize:  cfg.ClusterSize,
		StorageGiB:   cfg.StorageGiBPerBroker,
	}
	if err := mainTF.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("rendering main.tf: %w", err)
	}

	files := map[string]string{
		"main.tf":              buf.String(),
		"coordinator-setup.sh": coordinatorSetupScript,
		"broker-setup.sh.tmpl": brokerSetupScript,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return dir, nil
}

func (p *IaaSProvider) run(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.cfg.TerraformBinary, args...)
	cmd.Dir = dir
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("terraform %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return out.String(), nil
}

func (p *IaaSProvider) Provision(ctx context.Context, instanceID string, cfg model.ClusterConfig) (ProvisionResult, error) {
	dir, err := p.generateBundle(instanceID, cfg)
	if err != nil {
		return ProvisionResult{Status: StatusFailed, InstanceID: instanceID, Error: err.Error()}, err
	}

	if _, err := p.run(ctx, dir, 5*time.Minute, "init"); err != nil {
		p.destroyBestEffort(context.Background(), instanceID)
		return ProvisionResult{Status: StatusFailed, InstanceID: instanceID, Error: err.Error()}, err
	}
	if _, err := p.run(ctx, dir, 2*time.Minute, "plan", "-out=tfplan"); err != nil {
		p.destroyBestEffort(context.Background(), instanceID)
		return ProvisionResult{Status: StatusFailed, InstanceID: instanceID, Error: err.Error()}, err
	}
	if _, err := p.run(ctx, dir, 30*time.Minute, "apply", "-auto-approve", "tfplan"); err != nil {
		p.destroyBestEffort(context.Background(), instanceID)
		return ProvisionResult{Status: StatusFailed, InstanceID: instanceID, Error: err.Error()}, err
	}

	connInfo, err := p.readOutputs(ctx, dir)
	if err != nil {
		p.destroyBestEffort(context.Background(), instanceID)
		return ProvisionResult{Status: StatusFailed, InstanceID: instanceID, Error: err.Error()}, err
	}

	return ProvisionResult{Status: StatusSucceeded, InstanceID: instanceID, ConnectionInfo: connInfo}, nil
}

type tfOutputValue[T any] struct {
	Value T `json:"value"`
}

type tfOutputs struct {
	BootstrapServers   tfOutputValue[[]string] `json:"bootstrap_servers"`
	CoordinatorConnect tfOutputValue[string]    `json:"coordinator_connect"`
}

func (p *IaaSProvider) readOutputs(ctx context.Context, dir string) (*model.ConnectionInfo, error) {
	out, err := p.run(ctx, dir, 1*time.Minute, "output", "-json")
	if err != nil {
		return nil, fmt.Errorf("reading terraform outputs: %w", err)
	}
	var parsed tfOutputs
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, fmt.Errorf("parsing terraform outputs: %w", err)
	}
	if len(parsed.BootstrapServers.Value) == 0 || parsed.CoordinatorConnect.Value == "" {
		return nil, fmt.Errorf("terraform outputs missing bootstrap_servers or coordinator_connect")
	}
	return &model.ConnectionInfo{
		BootstrapEndpoints: parsed.BootstrapServers.Value,
		CoordinatorConn:    parsed.CoordinatorConnect.Value,
	}, nil
}

func (p *IaaSProvider) Deprovision(ctx context.Context, instanceID string) (DeprovisionResult, error) {
	dir := p.instanceDir(instanceID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return DeprovisionResult{Status: StatusSucceeded}, nil
	}
	if _, err := p.run(ctx, dir, 30*time.Minute, "destroy", "-auto-approve"); err != nil {
		p.logger.Warn("terraform destroy failed", "instance_id", instanceID, "error", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return DeprovisionResult{Status: StatusFailed, Error: err.Error()}, err
	}
	return DeprovisionResult{Status: StatusSucceeded}, nil
}

func (p *IaaSProvider) destroyBestEffort(ctx context.Context, instanceID string) {
	dir := p.instanceDir(instanceID)
	if _, err := p.run(ctx, dir, 30*time.Minute, "destroy", "-auto-approve"); err != nil {
		p.logger.Warn("best-effort terraform destroy failed", "instance_id", instanceID, "error", err)
	}
	os.RemoveAll(dir)
}

func (p *IaaSProvider) GetStatus(ctx context.Context, instanceID string) (ProvisionStatus, error) {
	dir := p.instanceDir(instanceID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return StatusFailed, nil
	}
	if _, err := p.readOutputs(ctx, dir); err != nil {
		return StatusInProgress, nil
	}
	return StatusSucceeded, nil
}

func (p *IaaSProvider) GetConnectionInfo(ctx context.Context, instanceID string) (*model.ConnectionInfo, error) {
	return p.readOutputs(ctx, p.instanceDir(instanceID))
}

// HealthCheck asks EC2 directly whether the instance's tagged VMs are
// running, rather than re-invoking terraform, the same way S3Store.Ping
// talks straight to the SDK instead of shelling out.
func (p *IaaSProvider) HealthCheck(ctx context.Context, instanceID string) bool {
	out, err := p.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:Name"), Values: []string{instanceID + "-coordinator", instanceID + "-broker-*"}},
			{Name: aws.String("instance-state-name"), Values: []string{"running"}},
		},
	})
	if err != nil {
		if isEC2NotFoundError(err) {
			return false
		}
		p.logger.Warn("ec2 health check failed", "instance_id", instanceID, "error", err)
		return false
	}
	for _, res := range out.Reservations {
		if len(res.Instances) > 0 {
			return true
		}
	}
	return false
}

func isEC2NotFoundError(err error) bool {
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "InvalidInstanceID")
}
