// Command thumbprint prints the fingerprint IAM needs for an EKS OIDC issuer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/thumbprint"
)

func main() {
	host := pflag.String("hostname", "oidc.eks.eu-west-1.amazonaws.com", "Hostname to get root CA fingerprint for")
	port := pflag.Int("port", 443, "Port to query")
	leaf := pflag.Bool("leaf", false, "Print the MD5 fingerprint of the leaf certificate instead")
	debug := pflag.Bool("debug", false, "Print cert CN to stderr")
	pflag.Parse()

	certs, err := thumbprint.Chain(*host, *port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *leaf {
		cert := certs[0]
		if *debug {
			fmt.Fprintf(os.Stderr, "%s\n", cert.Subject.CommonName)
		}
		fmt.Printf("Fingerprint for %s: %s\n", *host, thumbprint.MD5(cert))
		return
	}

	// The last cert in the chain is the root CA.
	root := certs[len(certs)-1]
	if *debug {
		fmt.Fprintf(os.Stderr, "%s\n", root.Subject.CommonName)
	}
	fmt.Println(thumbprint.SHA1(root))
}
