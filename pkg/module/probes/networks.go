package probes

import (
	"context"
	"net"

	"github.com/cuemby/burrow/pkg/inventory"
	"github.com/cuemby/burrow/pkg/module"
)

func init() {
	module.Register(module.Module{
		Name:     "networks",
		Category: "network",
		Collect:  collectNetworks,
	})
}

func collectNetworks(_ context.Context, params *module.Params) error {
	interfaces, err := net.Interfaces()
	if err != nil {
		return err
	}

	var macs []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		record := inventory.Record{
			"DESCRIPTION": iface.Name,
			"MTU":         iface.MTU,
		}
		if mac := iface.HardwareAddr.String(); mac != "" {
			record["MACADDR"] = mac
			macs = append(macs, mac)
		}
		if iface.Flags&net.FlagUp != 0 {
			record["STATUS"] = "up"
		} else {
			record["STATUS"] = "down"
		}

		if addrs, err := iface.Addrs(); err == nil {
			for _, addr := range addrs {
				ipnet, ok := addr.(*net.IPNet)
				if !ok || ipnet.IP == nil {
					continue
				}
				if v4 := ipnet.IP.To4(); v4 != nil {
					if _, ok := record["IPADDRESS"]; !ok {
						record["IPADDRESS"] = v4.String()
						record["IPMASK"] = net.IP(ipnet.Mask).String()
					}
				} else if _, ok := record["IPADDRESS6"]; !ok {
					record["IPADDRESS6"] = ipnet.IP.String()
				}
			}
		}

		if err := params.Inventory.AddEntry("NETWORKS", record); err != nil {
			return err
		}
	}

	return nil
}
