// Package libvirt exports qvm machines as libvirt domain definitions.
//
// qvm runs the hypervisor itself and never talks to a libvirt daemon. The
// export exists so that a machine can be handed over to libvirt:
//
//	xml, err := libvirt.GenerateDomainXML(machine, settings, layout)
//	if err != nil {
//	    return err
//	}
//	// virsh define /dev/stdin <<< "$xml"
//
// The definition references the machine's disc files in place, keeps its
// UUID and MAC addresses, and passes extra_args through qemu:commandline.
package libvirt
