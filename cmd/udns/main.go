package main

import (
	"fmt"
	"os"
	"time"

	"github.com/folbricht/udns"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var configFile string
	cmd := &cobra.Command{
		Use:   "udns <domain> [type]",
		Short: "Caching DNS lookup tool",
		Long: `Caching DNS lookup tool.

Queries a set of public nameservers in parallel over UDP
and prints the decoded answer records. The nameserver set
and resolver behavior can be changed with a TOML config
file.
`,
		Example: `  udns example.com
  udns example.com MX
  udns -c config.toml example.com AAAA`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile, args)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configFile string, args []string) error {
	resolverConfig := udns.DefaultConfig(
		"8.8.8.8",        // Google Public DNS
		"8.8.4.4",        // Google Public DNS
		"1.1.1.1",        // Cloudflare DNS
		"1.0.0.1",        // Cloudflare DNS
		"9.9.9.9",        // Quad9 DNS
		"208.67.222.222", // OpenDNS
		"208.67.220.220", // OpenDNS
	)

	if configFile != "" {
		fileConfig, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		if err := applyConfig(&resolverConfig, fileConfig); err != nil {
			return err
		}
	}

	rtype := udns.TypeA
	if len(args) > 1 {
		t, ok := udns.TypeFromString(args[1])
		if !ok {
			return fmt.Errorf("unknown record type '%s'", args[1])
		}
		rtype = t
	}

	resolver, err := udns.NewResolver(resolverConfig)
	if err != nil {
		return err
	}
	records, err := resolver.Resolve(args[0], rtype)
	if err != nil {
		return err
	}

	for _, record := range records {
		printRecord(record)
	}

	stats := resolver.Stats()
	fmt.Printf("%d queries, %.0f%% cache hits, avg %s\n",
		stats.TotalQueries, stats.HitRate()*100, stats.AvgResolutionTime())
	return nil
}

func applyConfig(resolverConfig *udns.ResolverConfig, fileConfig config) error {
	if len(fileConfig.Nameservers) > 0 {
		resolverConfig.Nameservers = fileConfig.Nameservers
	}
	if fileConfig.PoolSize > 0 {
		resolverConfig.ConnPoolSize = fileConfig.PoolSize
	}
	if fileConfig.MaxRecursion > 0 {
		resolverConfig.MaxRecursion = fileConfig.MaxRecursion
	}
	if fileConfig.MaxRetries > 0 {
		resolverConfig.MaxRetries = fileConfig.MaxRetries
	}
	if fileConfig.QueryTimeoutMs > 0 {
		resolverConfig.QueryTimeout = time.Duration(fileConfig.QueryTimeoutMs) * time.Millisecond
	}
	if fileConfig.Parallel != nil {
		resolverConfig.EnableParallelQueries = *fileConfig.Parallel
	}
	if fileConfig.DNSSEC != nil {
		resolverConfig.EnableDNSSEC = *fileConfig.DNSSEC
	}
	if fileConfig.LogLevel != "" {
		level, err := logrus.ParseLevel(fileConfig.LogLevel)
		if err != nil {
			return err
		}
		udns.Log.SetLevel(level)
	}
	if fileConfig.Syslog != nil {
		hook, err := udns.NewSyslogHook(udns.SyslogOptions{
			Network:  fileConfig.Syslog.Network,
			Address:  fileConfig.Syslog.Address,
			Priority: fileConfig.Syslog.Priority,
			Tag:      fileConfig.Syslog.Tag,
		})
		if err != nil {
			return err
		}
		udns.Log.AddHook(hook)
	}
	return nil
}

func printRecord(record udns.ResourceRecord) {
	fmt.Printf("Name: %s\nType: %s\nTTL: %d\n", record.Name, record.Type, record.TTL)
	if len(record.Data) == 0 {
		fmt.Println("Data: no data")
	} else {
		fmt.Print("Data:")
		for _, data := range record.Data {
			fmt.Printf(" %s", data)
		}
		fmt.Println()
	}
	if record.MX != nil {
		fmt.Printf("MX Preference: %d\nMX Exchange: %s\n", record.MX.Preference, record.MX.Exchange)
	}
	if record.SOA != nil {
		fmt.Printf("SOA MNAME: %s\nSOA RNAME: %s\nSOA Serial: %d\n", record.SOA.MName, record.SOA.RName, record.SOA.Serial)
	}
	fmt.Println("----------------------------")
}
