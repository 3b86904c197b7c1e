package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/bardlex/snapminer/pkg/errors"
)

// DefaultFile is the config file template written when --config names a
// file that does not exist.
const DefaultFile = `[node]
address = "127.0.0.1:3003"

[miner]
public = "<your public wallet address>"

[threads]
count = 1
`

// fileConfig is the TOML layout. Unset keys leave the defaults alone.
type fileConfig struct {
	Node struct {
		Address  string `toml:"address"`
		User     string `toml:"user"`
		Password string `toml:"password"`
		ZMQ      string `toml:"zmq"`
	} `toml:"node"`

	Miner struct {
		Public    string `toml:"public"`
		BatchSize *int   `toml:"batch_size"`
	} `toml:"miner"`

	Threads struct {
		Count *int `toml:"count"`
	} `toml:"threads"`

	Metrics struct {
		Addr string `toml:"addr"`
	} `toml:"metrics"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
		File   string `toml:"file"`
	} `toml:"log"`
}

// applyFile reads the TOML file at path onto c. A missing file is replaced
// by DefaultFile and reported as a configuration error so the user can fill
// in the miner key first.
func (c *Config) applyFile(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		if werr := os.WriteFile(path, []byte(DefaultFile), 0o644); werr != nil {
			return errors.Wrap(werr, errors.ErrorTypeConfig, "load_config", "failed to create config file").
				WithContext("path", path)
		}
		return errors.New(errors.ErrorTypeConfig, "load_config", fmt.Sprintf(
			"created new config file %s; replace <your public wallet address> with your miner public key and run again", path))
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "load_config", "failed to open config file").
			WithContext("path", path)
	}
	defer f.Close()

	var fc fileConfig
	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&fc); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "load_config", "invalid config file").
			WithContext("path", path)
	}

	if fc.Node.Address != "" {
		host, port, err := SplitNodeAddr(fc.Node.Address)
		if err != nil {
			return err
		}
		c.NodeRPCHost, c.NodeRPCPort = host, port
	}
	setString(&c.NodeRPCUser, fc.Node.User)
	setString(&c.NodeRPCPassword, fc.Node.Password)
	setString(&c.NodeZMQAddr, fc.Node.ZMQ)

	setString(&c.MinerPublic, fc.Miner.Public)
	if fc.Miner.BatchSize != nil {
		c.BatchSize = *fc.Miner.BatchSize
	}
	if fc.Threads.Count != nil {
		c.Threads = *fc.Threads.Count
	}

	setString(&c.MetricsAddr, fc.Metrics.Addr)
	setString(&c.LogLevel, fc.Log.Level)
	setString(&c.LogFormat, fc.Log.Format)
	setString(&c.LogFile, fc.Log.File)
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// SplitNodeAddr parses a host:port node address.
func SplitNodeAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, errors.Wrap(err, errors.ErrorTypeConfig, "load_config", "node address must be host:port").
			WithContext("address", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, errors.Wrap(err, errors.ErrorTypeConfig, "load_config", fmt.Sprintf("invalid port %q", portStr))
	}
	return host, port, nil
}
