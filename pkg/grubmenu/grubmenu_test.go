package grubmenu_test

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/bootkey-io/bootkey/pkg/grubmenu"
)

// trimmed grub-mkconfig output from a Debian host with two kernels
const grubCfg = `#
# DO NOT EDIT THIS FILE
#
set default="saved"
if [ x"${feature_menuentry_id}" = xy ]; then
  menuentry_id_option="--id"
fi
menuentry 'Debian GNU/Linux' --class debian --class gnu-linux --class os $menuentry_id_option 'gnulinux-simple-croot' {
	load_video
	insmod gzio
	linux	/vmlinuz-6.1.0-18-amd64 root=/dev/mapper/croot ro quiet
	initrd	/initrd.img-6.1.0-18-amd64
}
submenu 'Advanced options for Debian GNU/Linux' $menuentry_id_option 'gnulinux-advanced-croot' {
	menuentry 'Debian GNU/Linux, with Linux 6.1.0-18-amd64' --class debian $menuentry_id_option 'gnulinux-6.1.0-18-amd64-advanced-croot' {
		linux	/vmlinuz-6.1.0-18-amd64 root=/dev/mapper/croot ro quiet
		initrd	/initrd.img-6.1.0-18-amd64
	}
	menuentry 'Debian GNU/Linux, with Linux 6.1.0-18-amd64 (recovery mode)' --class debian $menuentry_id_option 'gnulinux-6.1.0-18-amd64-recovery-croot' {
		linux	/vmlinuz-6.1.0-18-amd64 root=/dev/mapper/croot ro single
		initrd	/initrd.img-6.1.0-18-amd64
	}
	menuentry 'Debian GNU/Linux, with Linux 5.10.0-28-amd64' --class debian $menuentry_id_option 'gnulinux-5.10.0-28-amd64-advanced-croot' {
		linux	/vmlinuz-5.10.0-28-amd64 root=/dev/mapper/croot ro quiet
		initrd	/initrd.img-5.10.0-28-amd64
	}
}
menuentry 'UEFI Firmware Settings' --id 'uefi-firmware' {
	fwsetup
}
`

var _ = Describe("boot menu parsing", func() {
	Context("Walk", func() {
		It("emits every initrd line with its menu path", func() {
			var kernels []grubmenu.Kernel
			err := grubmenu.Walk(strings.NewReader(grubCfg), func(k grubmenu.Kernel) bool {
				kernels = append(kernels, k)
				return true
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(kernels).To(HaveLen(4))

			Expect(kernels[0].Version).To(Equal("6.1.0-18-amd64"))
			Expect(kernels[0].Initrd).To(Equal("/initrd.img-6.1.0-18-amd64"))
			Expect(kernels[0].Path).To(HaveLen(1))
			Expect(kernels[0].Path[0].Title).To(Equal("Debian GNU/Linux"))
			Expect(kernels[0].Path[0].ID).To(Equal("gnulinux-simple-croot"))
			Expect(kernels[0].Path[0].Index).To(Equal(0))
			Expect(kernels[0].Path[0].Type).To(Equal(grubmenu.Menu))
		})
		It("tracks sibling indexes across submenu boundaries", func() {
			var kernels []grubmenu.Kernel
			err := grubmenu.Walk(strings.NewReader(grubCfg), func(k grubmenu.Kernel) bool {
				kernels = append(kernels, k)
				return true
			})
			Expect(err).ToNot(HaveOccurred())

			// the submenu itself is the second top-level entry, its
			// children restart counting at 0
			last := kernels[3]
			Expect(last.Version).To(Equal("5.10.0-28-amd64"))
			Expect(last.Path).To(HaveLen(2))
			Expect(last.Path[0].Type).To(Equal(grubmenu.Submenu))
			Expect(last.Path[0].Index).To(Equal(1))
			Expect(last.Path[0].ID).To(Equal("gnulinux-advanced-croot"))
			Expect(last.Path[1].Index).To(Equal(2))
			Expect(last.Path[1].ID).To(Equal("gnulinux-5.10.0-28-amd64-advanced-croot"))
		})
		It("stops when the callback returns false", func() {
			calls := 0
			err := grubmenu.Walk(strings.NewReader(grubCfg), func(_ grubmenu.Kernel) bool {
				calls++
				return false
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(calls).To(Equal(1))
		})
		It("honors an explicit --id flag", func() {
			header := "menuentry 'Plain' --id 'custom-id' {\n\tinitrd /initrd.img-1.0-test\n}\n"
			var kernels []grubmenu.Kernel
			err := grubmenu.Walk(strings.NewReader(header), func(k grubmenu.Kernel) bool {
				kernels = append(kernels, k)
				return true
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(kernels).To(HaveLen(1))
			Expect(kernels[0].Path[0].ID).To(Equal("custom-id"))
		})
	})

	Context("ResolveVersion", func() {
		It("resolves the first top-level entry", func() {
			k, err := grubmenu.ResolveVersion("0", strings.NewReader(grubCfg))
			Expect(err).ToNot(HaveOccurred())
			Expect(k.Version).To(Equal("6.1.0-18-amd64"))
		})
		It("resolves a nested index path", func() {
			k, err := grubmenu.ResolveVersion("1>2", strings.NewReader(grubCfg))
			Expect(err).ToNot(HaveOccurred())
			Expect(k.Version).To(Equal("5.10.0-28-amd64"))
		})
		It("resolves an id path the way grub does for saved entries", func() {
			k, err := grubmenu.ResolveVersion("gnulinux-advanced-croot>gnulinux-5.10.0-28-amd64-advanced-croot", strings.NewReader(grubCfg))
			Expect(err).ToNot(HaveOccurred())
			Expect(k.Version).To(Equal("5.10.0-28-amd64"))
		})
		It("requires selector and path to run out together", func() {
			// the submenu matches this fragment but only its children
			// carry kernels, so the one-element selector finds nothing
			_, err := grubmenu.ResolveVersion("gnulinux-advanced-croot", strings.NewReader(grubCfg))
			Expect(err).To(MatchError(grubmenu.ErrKernelNotFound))
		})
		It("reports out-of-range selectors as not found", func() {
			_, err := grubmenu.ResolveVersion("9", strings.NewReader(grubCfg))
			Expect(err).To(MatchError(grubmenu.ErrKernelNotFound))
		})
	})

	Context("DefaultSelector", func() {
		var tmpDir string
		var cfgPath, envPath string

		BeforeEach(func() {
			var err error
			tmpDir, err = os.MkdirTemp("", "")
			Expect(err).ToNot(HaveOccurred())
			cfgPath = filepath.Join(tmpDir, "grub.cfg")
			envPath = filepath.Join(tmpDir, "grubenv")
		})
		AfterEach(func() {
			os.RemoveAll(tmpDir)
		})

		It("strips one layer of quotes", func() {
			Expect(os.WriteFile(cfgPath, []byte("set default='1>0'\n"), 0644)).To(Succeed())
			sel, err := grubmenu.DefaultSelector(cfgPath, envPath)
			Expect(err).ToNot(HaveOccurred())
			Expect(sel).To(Equal("1>0"))
		})
		It("skips the next_entry branch of a stock header", func() {
			header := "if [ \"${next_entry}\" ] ; then\n" +
				"   set default=\"${next_entry}\"\n" +
				"   set next_entry=\n" +
				"   save_env next_entry\n" +
				"   set boot_once=true\n" +
				"else\n" +
				"   set default=\"saved\"\n" +
				"fi\n"
			Expect(os.WriteFile(cfgPath, []byte(header), 0644)).To(Succeed())
			env := "# GRUB Environment Block\nsaved_entry=gnulinux-simple-croot\n"
			Expect(os.WriteFile(envPath, []byte(env), 0644)).To(Succeed())

			sel, err := grubmenu.DefaultSelector(cfgPath, envPath)
			Expect(err).ToNot(HaveOccurred())
			Expect(sel).To(Equal("gnulinux-simple-croot"))
		})
		It("substitutes the saved entry from the environment block", func() {
			Expect(os.WriteFile(cfgPath, []byte(`set default="saved"`+"\n"), 0644)).To(Succeed())
			env := "# GRUB Environment Block\nsaved_entry=gnulinux-advanced-croot>gnulinux-5.10.0-28-amd64-advanced-croot\n" + strings.Repeat("#", 64) + "\n"
			Expect(os.WriteFile(envPath, []byte(env), 0644)).To(Succeed())
			sel, err := grubmenu.DefaultSelector(cfgPath, envPath)
			Expect(err).ToNot(HaveOccurred())
			Expect(sel).To(Equal("gnulinux-advanced-croot>gnulinux-5.10.0-28-amd64-advanced-croot"))
		})
		It("falls back to the first entry when nothing is saved", func() {
			Expect(os.WriteFile(cfgPath, []byte(`set default="saved"`+"\n"), 0644)).To(Succeed())
			sel, err := grubmenu.DefaultSelector(cfgPath, envPath)
			Expect(err).ToNot(HaveOccurred())
			Expect(sel).To(Equal("0"))
		})
		It("falls back to the first entry without a default directive", func() {
			Expect(os.WriteFile(cfgPath, []byte("menuentry 'x' {\n}\n"), 0644)).To(Succeed())
			sel, err := grubmenu.DefaultSelector(cfgPath, envPath)
			Expect(err).ToNot(HaveOccurred())
			Expect(sel).To(Equal("0"))
		})
	})

	Context("DefaultVersion", func() {
		It("chains selector resolution and menu walking", func() {
			tmpDir, err := os.MkdirTemp("", "")
			Expect(err).ToNot(HaveOccurred())
			defer os.RemoveAll(tmpDir)
			cfgPath := filepath.Join(tmpDir, "grub.cfg")
			envPath := filepath.Join(tmpDir, "grubenv")
			Expect(os.WriteFile(cfgPath, []byte(grubCfg), 0644)).To(Succeed())
			env := "# GRUB Environment Block\nsaved_entry=1>0\n"
			Expect(os.WriteFile(envPath, []byte(env), 0644)).To(Succeed())

			k, err := grubmenu.DefaultVersion(cfgPath, envPath)
			Expect(err).ToNot(HaveOccurred())
			Expect(k.Version).To(Equal("6.1.0-18-amd64"))
		})
	})
})
